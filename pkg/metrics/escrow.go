package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records escrow lifecycle outcomes and provider latency.
type EscrowMetrics struct {
	operations   *prometheus.CounterVec
	providerCall *prometheus.HistogramVec
}

// NewEscrowMetrics registers the escrow metrics on the provided registerer.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Escrow operations by type and outcome.",
	}, []string{"operation", "outcome"})
	providerCall := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_provider_call_seconds",
		Help:    "Latency of payment provider calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(operations, providerCall)
	return &EscrowMetrics{
		operations:   operations,
		providerCall: providerCall,
	}
}

// IncOperation counts a completed escrow operation with its outcome.
func (e *EscrowMetrics) IncOperation(operation, outcome string) {
	if e == nil || e.operations == nil {
		return
	}
	e.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveProviderCall records the latency of a provider call.
func (e *EscrowMetrics) ObserveProviderCall(operation string, duration time.Duration) {
	if e == nil || e.providerCall == nil {
		return
	}
	e.providerCall.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}
