package builder

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.vocdoni.io/ballotchain/metrics"
)

var (
	// BuilderBlocksCut counts candidate blocks handed to consensus.
	BuilderBlocksCut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "builder",
		Name:      "blocks_cut_total",
		Help:      "Candidate blocks cut from the pending ballots",
	})
	BuilderBlockBallots = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "builder",
		Name:      "block_ballots",
		Help:      "Ballots per candidate block",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	// BuilderInvalidBlocks counts proposed blocks failing validation.
	BuilderInvalidBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "builder",
		Name:      "invalid_blocks_total",
		Help:      "Proposed blocks rejected by validation",
	})
)

// RegisterMetrics registers the builder collectors.
func RegisterMetrics() {
	metrics.Register(BuilderBlocksCut)
	metrics.Register(BuilderBlockBallots)
	metrics.Register(BuilderInvalidBlocks)
}
