package sessionsync

import (
	"errors"
	"time"

	"podcast-research-sync/internal/pkg/metrics"
	"podcast-research-sync/pkg/researchapi"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is a no-op then.
type Metrics struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	conflictsResolved prometheus.Counter
	retries           prometheus.Counter
}

// NewMetrics registers the sync collectors on reg. Calling it again with the
// same registry returns metrics backed by the already registered series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research_sync",
			Name:      "operations_total",
			Help:      "Session sync operations by kind and outcome.",
		}, []string{"operation", "outcome"})),
		duration: metrics.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "research_sync",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session sync operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})),
		conflictsResolved: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "research_sync",
			Name:      "conflicts_resolved_total",
			Help:      "Updates that succeeded after a refetch-and-retry.",
		})),
		retries: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "research_sync",
			Name:      "save_retries_total",
			Help:      "Saves retried after a transient failure.",
		})),
	}
}

func (m *Metrics) observe(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) observeConflictResolved() {
	if m == nil {
		return
	}
	m.conflictsResolved.Inc()
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, researchapi.ErrValidation):
		return "validation"
	case errors.Is(err, researchapi.ErrConflict):
		return "conflict"
	case errors.Is(err, researchapi.ErrNotFound):
		return "not_found"
	case errors.Is(err, researchapi.ErrTimeout):
		return "timeout"
	case errors.Is(err, researchapi.ErrNetwork):
		return "network"
	default:
		return "error"
	}
}
