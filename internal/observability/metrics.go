// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label for a successful operation. Failures use the lowercased
// error kind.
const OutcomeOK = "ok"

// Metrics holds the authd Prometheus collectors.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	NotifierFailures  prometheus.Counter
}

// NewMetrics creates the authd collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "authd_auth_operation_duration_seconds",
				Help: "Auth operation latency, including password hashing",
				// Argon2id dominates; buckets cover 5ms to ~5s.
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 11),
			},
			[]string{"operation"},
		),
		NotifierFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_notifier_failures_total",
				Help: "Total number of recovery code deliveries that failed",
			},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.OperationDuration, m.NotifierFailures)
	return m
}

// ObserveOperation records one finished operation. A nil Metrics is a no-op.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordNotifierFailure counts a failed recovery code delivery. A nil
// Metrics is a no-op.
func (m *Metrics) RecordNotifierFailure() {
	if m == nil {
		return
	}
	m.NotifierFailures.Inc()
}
