// Package observability records service operation metrics in Prometheus.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives operation outcomes and failed compensations.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	RollbackFailed(transaction, step string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) Observe(context.Context, string, bool, time.Duration) {}
func (NoopRecorder) RollbackFailed(string, string)                        {}

// PrometheusRecorder aggregates per-operation results and latencies.
type PrometheusRecorder struct {
	results   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	rollbacks *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg under namespace.
// Collectors already registered by a previous recorder are reused.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "donationcore"
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Service operations by outcome.",
	}, []string{"operation", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Service operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollback_failures_total",
		Help:      "Compensating actions that failed and left orphaned state.",
	}, []string{"transaction", "step"})

	var err error
	if results, err = register(reg, results); err != nil {
		return nil, err
	}
	if durations, err = register(reg, durations); err != nil {
		return nil, err
	}
	if rollbacks, err = register(reg, rollbacks); err != nil {
		return nil, err
	}
	return &PrometheusRecorder{results: results, durations: durations, rollbacks: rollbacks}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records a service operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.results.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// RollbackFailed counts a compensation that could not be applied.
func (r *PrometheusRecorder) RollbackFailed(transaction, step string) {
	r.rollbacks.WithLabelValues(transaction, step).Inc()
}

// Track runs fn and reports its outcome to rec.
func Track(ctx context.Context, rec Recorder, operation string, fn func() error) error {
	if rec == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	rec.Observe(ctx, operation, err == nil, time.Since(start))
	return err
}
