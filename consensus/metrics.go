package consensus

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.vocdoni.io/ballotchain/metrics"
)

var (
	// ConsensusHeight is the height being decided.
	ConsensusHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "consensus",
		Name:      "height",
		Help:      "Height currently being decided",
	})
	// ConsensusRound is the round of the current height.
	ConsensusRound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "consensus",
		Name:      "round",
		Help:      "Round of the current height",
	})
	// ConsensusTimeouts counts expired phases.
	ConsensusTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consensus",
		Name:      "timeouts_total",
		Help:      "Expired round phases",
	}, []string{"step"})
	// ConsensusCommits counts blocks appended by this node.
	ConsensusCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consensus",
		Name:      "commits_total",
		Help:      "Blocks appended to the ledger, decided locally or synced",
	}, []string{"source"})
	// ConsensusEquivocations counts duplicate vote evidence.
	ConsensusEquivocations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "consensus",
		Name:      "equivocations_total",
		Help:      "Conflicting votes signed by the same validator",
	})
)

// RegisterMetrics registers the consensus collectors.
func RegisterMetrics() {
	metrics.Register(ConsensusHeight)
	metrics.Register(ConsensusRound)
	metrics.Register(ConsensusTimeouts)
	metrics.Register(ConsensusCommits)
	metrics.Register(ConsensusEquivocations)
}
