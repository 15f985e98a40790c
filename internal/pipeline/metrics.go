package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the pipelines.
type Metrics struct {
	// ItemsTotal counts items touched, labeled by pipeline and outcome.
	ItemsTotal *prometheus.CounterVec
	// RunsTotal counts pipeline runs, labeled by pipeline and status (ok, error).
	RunsTotal *prometheus.CounterVec
}

// NewMetrics returns the process-wide pipeline metrics, registering them with
// the default registry on first use.
//
// Metrics:
//   - almseed_pipeline_items_total{pipeline,outcome}
//   - almseed_pipeline_runs_total{pipeline,status}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalMetrics
}

// NewMetricsWith registers a fresh set of pipeline metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almseed_pipeline_items_total",
				Help: "Total number of tracker items handled by generation and update pipelines",
			},
			[]string{"pipeline", "outcome"}, // outcome: created, updated, skipped, failed
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almseed_pipeline_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"pipeline", "status"},
		),
	}
}

func (m *Metrics) item(pipeline, outcome string) {
	m.ItemsTotal.WithLabelValues(pipeline, outcome).Inc()
}

func (m *Metrics) run(pipeline string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(pipeline, status).Inc()
}
