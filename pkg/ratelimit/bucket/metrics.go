package bucket

import (
	"context"
	"time"

	"github.com/vnykmshr/poolserve/pkg/metrics"
)

const limiterType = "token_bucket"

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	Limiter
	name     string
	registry *metrics.Registry
}

// NewWithMetrics wraps limiter so every decision is counted under name.
// A nil registry uses metrics.Default().
func NewWithMetrics(limiter Limiter, name string, registry *metrics.Registry) *MetricsLimiter {
	if registry == nil {
		registry = metrics.Default()
	}
	return &MetricsLimiter{Limiter: limiter, name: name, registry: registry}
}

// Allow reports whether an event may happen now.
func (ml *MetricsLimiter) Allow() bool {
	return ml.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (ml *MetricsLimiter) AllowN(n int) bool {
	allowed := ml.Limiter.AllowN(n)
	if allowed {
		ml.registry.RateLimitAllowed.WithLabelValues(limiterType, ml.name).Add(float64(n))
	} else {
		ml.registry.RateLimitDenied.WithLabelValues(limiterType, ml.name).Add(float64(n))
	}
	return allowed
}

// Wait blocks until an event can happen.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	return ml.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen and records the time spent waiting.
func (ml *MetricsLimiter) WaitN(ctx context.Context, n int) error {
	start := time.Now()
	err := ml.Limiter.WaitN(ctx, n)
	ml.registry.RateLimitWaitTime.WithLabelValues(limiterType, ml.name).Observe(time.Since(start).Seconds())

	if err != nil {
		ml.registry.RateLimitDenied.WithLabelValues(limiterType, ml.name).Add(float64(n))
		return err
	}
	ml.registry.RateLimitAllowed.WithLabelValues(limiterType, ml.name).Add(float64(n))
	return nil
}
