package node

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/consensus"
	"go.vocdoni.io/ballotchain/metrics"
)

var (
	// NodeBallots counts submitted ballots by outcome.
	NodeBallots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "node",
		Name:      "ballots_total",
		Help:      "Ballots received from voters or peers, by outcome",
	}, []string{"result"})
	NodeLedgerHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "node",
		Name:      "ledger_height",
		Help:      "Index of the last finalized block",
	})
	NodePendingBallots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "node",
		Name:      "pending_ballots",
		Help:      "Admitted ballots waiting for a block",
	})
	NodeMempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "node",
		Name:      "mempool_size",
		Help:      "Gossiped ballots waiting for verification",
	})
)

// RegisterMetrics registers the node collectors and those of its components.
func RegisterMetrics() {
	metrics.Register(NodeBallots)
	metrics.Register(NodeLedgerHeight)
	metrics.Register(NodePendingBallots)
	metrics.Register(NodeMempoolSize)
	consensus.RegisterMetrics()
	builder.RegisterMetrics()
}
