package sep

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the Secured Execution
// Pipeline, grounded on the teacher's escrow.Metrics construction pattern.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
}

var (
	sharedMetrics *Metrics
	metricsOnce   sync.Once
)

// NewMetrics registers the pipeline collectors on the default Prometheus
// registry the first time it is called; later calls return the same Metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sep_outcomes_total",
				Help: "Total number of Secured Execution Pipeline terminal outcomes",
			},
			[]string{"event_type"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sep_stage_duration_seconds",
				Help:    "Duration of a full Secured Execution Pipeline run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
	}
}
