// Package metrics exposes the node's prometheus collectors.
package metrics

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.vocdoni.io/ballotchain/log"
)

// Agent serves the default registry over HTTP.
type Agent struct {
	Path            string
	RefreshInterval time.Duration
}

// NewAgent mounts the prometheus handler at path on router.
func NewAgent(path string, interval time.Duration, router chi.Router) *Agent {
	ma := Agent{Path: path, RefreshInterval: interval}
	router.Method("GET", path, promhttp.Handler())
	log.Infof("prometheus metrics ready at: %s", path)
	return &ma
}

// Register the provided prometheus collector, ignoring any error returned (simply logs a Warn)
func Register(c prometheus.Collector) {
	err := prometheus.Register(c)
	if err != nil {
		log.Warnf("cannot register metrics: (%s) (%+v)", err, c)
	}
}
