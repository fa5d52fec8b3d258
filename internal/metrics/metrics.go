// Package metrics defines the gateway's instrumentation set behind
// go-kit's metrics interfaces, so the serving path does not care whether
// Prometheus is wired up or everything is discarded.
package metrics

import (
	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Set carries every metric the gateway emits.
type Set struct {
	// Operations counts finished operations by op and status.
	Operations kitmetrics.Counter
	// Duration observes per-op wall time in seconds.
	Duration kitmetrics.Histogram
	// Sessions counts dialed sessions by account and result.
	Sessions kitmetrics.Counter
	// CursorsLive tracks the number of live pagination cursors.
	CursorsLive kitmetrics.Gauge
}

// NewPrometheus registers the set with the default Prometheus registerer.
func NewPrometheus() *Set {
	return &Set{
		Operations: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "mailgate",
			Name:      "operations_total",
			Help:      "Finished gateway operations.",
		}, []string{"op", "status"}),
		Duration: kitprometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "mailgate",
			Name:      "operation_duration_seconds",
			Help:      "Gateway operation latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
		Sessions: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "mailgate",
			Name:      "sessions_total",
			Help:      "Dialed IMAP sessions.",
		}, []string{"account", "result"}),
		CursorsLive: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: "mailgate",
			Name:      "cursors_live",
			Help:      "Live pagination cursors.",
		}, nil),
	}
}

// NewDiscard returns a set that drops everything, for tests and for
// deployments that do not expose a metrics listener.
func NewDiscard() *Set {
	return &Set{
		Operations:  discard.NewCounter(),
		Duration:    discard.NewHistogram(),
		Sessions:    discard.NewCounter(),
		CursorsLive: discard.NewGauge(),
	}
}
