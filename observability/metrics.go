package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradevault/native/vault"
)

// OperationMetrics records vault operation activity segmented by operation
// and outcome. Outcomes follow the engine's rejection taxonomy so operators
// can alert on postcondition violations separately from routine policy
// rejections.
type OperationMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *OperationMetrics
)

// VaultMetrics returns the lazily-initialised vault operation metrics.
func VaultMetrics() *OperationMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &OperationMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradevault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradevault",
				Subsystem: "vault",
				Name:      "rejections_total",
				Help:      "Rejected vault operations segmented by operation and reason code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tradevault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Vault operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(vaultRegistry.operations, vaultRegistry.rejections, vaultRegistry.latency)
	})
	return vaultRegistry
}

// Observe records the outcome of one vault operation.
func (m *OperationMetrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.operations.WithLabelValues(operation, "accepted").Inc()
		return
	}
	if rej, ok := vault.AsRejection(err); ok {
		m.operations.WithLabelValues(operation, rej.Kind.String()).Inc()
		m.rejections.WithLabelValues(operation, string(rej.Code)).Inc()
		return
	}
	if errors.Is(err, vault.ErrVaultNotFound) || errors.Is(err, vault.ErrVaultExists) {
		m.operations.WithLabelValues(operation, "precondition_violation").Inc()
		return
	}
	m.operations.WithLabelValues(operation, "error").Inc()
}

// Time returns a stop function that records the elapsed latency for the
// operation when invoked.
func (m *OperationMetrics) Time(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
