package service

import (
	"errors"

	"podcast-research-sync/internal/pkg/metrics"
	"podcast-research-sync/internal/repository/contract"

	"github.com/prometheus/client_golang/prometheus"
)

// HostMetrics counts session writes and analysis requests on the server.
// A nil *HostMetrics records nothing.
type HostMetrics struct {
	writes   *prometheus.CounterVec
	analyses *prometheus.CounterVec
}

func NewHostMetrics(reg prometheus.Registerer) *HostMetrics {
	return &HostMetrics{
		writes: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research_sync",
			Subsystem: "host",
			Name:      "session_writes_total",
			Help:      "Session creates and updates by outcome.",
		}, []string{"operation", "outcome"})),
		analyses: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research_sync",
			Subsystem: "host",
			Name:      "analyses_total",
			Help:      "Analysis requests by quota decision.",
		}, []string{"outcome"})),
	}
}

func (m *HostMetrics) observeWrite(op string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, contract.ErrVersionMismatch):
		outcome = "conflict"
	case errors.Is(err, contract.ErrSessionNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	m.writes.WithLabelValues(op, outcome).Inc()
}

func (m *HostMetrics) observeAnalysis(allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.analyses.WithLabelValues(outcome).Inc()
}
