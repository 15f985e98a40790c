package purge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the purge engine.
type Metrics struct {
	// PassesTotal counts scan-and-delete passes.
	PassesTotal prometheus.Counter
	// DeletedTotal counts deleted items.
	DeletedTotal prometheus.Counter
}

// NewMetrics returns the process-wide purge metrics, registering them with the
// default registry on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalMetrics
}

// NewMetricsWith registers a fresh set of purge metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		PassesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "almseed_purge_passes_total",
			Help: "Total number of purge passes",
		}),
		DeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "almseed_purge_items_deleted_total",
			Help: "Total number of tracker items deleted by purges",
		}),
	}
}

func (m *Metrics) pass()    { m.PassesTotal.Inc() }
func (m *Metrics) deleted() { m.DeletedTotal.Inc() }
