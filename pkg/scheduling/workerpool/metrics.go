package workerpool

import (
	"time"

	"github.com/vnykmshr/poolserve/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	Pool
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a worker pool whose lifecycle hooks feed registry.
// Hooks already present in config still run. A nil registry uses metrics.Default().
func NewWithMetrics(config Config, registry *metrics.Registry) (*MetricsPool, error) {
	if registry == nil {
		registry = metrics.Default()
	}
	if config.Name == "" {
		config.Name = "default"
	}

	mp := &MetricsPool{
		name:     config.Name,
		registry: registry,
	}

	onStart := config.OnTaskStart
	config.OnTaskStart = func(workerID int, task Task) {
		mp.updateGauges()
		if onStart != nil {
			onStart(workerID, task)
		}
	}

	onComplete := config.OnTaskComplete
	config.OnTaskComplete = func(workerID int, result Result) {
		mp.observe(result)
		if onComplete != nil {
			onComplete(workerID, result)
		}
	}

	onDrop := config.OnDrop
	config.OnDrop = func(task Task) {
		registry.TasksDropped.WithLabelValues(mp.name).Inc()
		if onDrop != nil {
			onDrop(task)
		}
	}

	onBackpressure := config.OnBackpressure
	config.OnBackpressure = func(waited time.Duration) {
		registry.SubmitBlocked.WithLabelValues(mp.name).Inc()
		if onBackpressure != nil {
			onBackpressure(waited)
		}
	}

	pool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	mp.Pool = pool

	registry.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(pool.Size()))
	mp.updateGauges()

	return mp, nil
}

// Submit adds a task to the pool and records the submission.
func (mp *MetricsPool) Submit(task Task) {
	_ = mp.Dispatch(task)
}

// Dispatch adds a task to the pool and records the submission.
func (mp *MetricsPool) Dispatch(task Task) error {
	err := mp.Pool.Dispatch(task)
	if err == nil {
		mp.registry.TasksSubmitted.WithLabelValues(mp.name).Inc()
	}
	mp.updateGauges()
	return err
}

// Shutdown drains and stops the pool, then zeroes the gauges.
func (mp *MetricsPool) Shutdown() {
	mp.Pool.Shutdown()
	mp.updateGauges()
}

// Registry returns the metrics registry the pool reports to.
func (mp *MetricsPool) Registry() *metrics.Registry {
	return mp.registry
}

func (mp *MetricsPool) observe(result Result) {
	r := mp.registry
	r.TaskQueueWait.WithLabelValues(mp.name).Observe(result.QueueWait.Seconds())
	r.TaskExecutionDuration.WithLabelValues(mp.name).Observe(result.Duration.Seconds())

	switch {
	case result.Panicked:
		r.TasksPanicked.WithLabelValues(mp.name).Inc()
		r.TasksFailed.WithLabelValues(mp.name).Inc()
	case result.Error != nil:
		r.TasksFailed.WithLabelValues(mp.name).Inc()
	default:
		r.TasksCompleted.WithLabelValues(mp.name).Inc()
	}

	mp.updateGauges()
}

// updateGauges updates the current state metrics.
func (mp *MetricsPool) updateGauges() {
	if mp.Pool == nil {
		return
	}
	mp.registry.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.Pool.ActiveWorkers()))
	mp.registry.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.Pool.QueueSize()))
}
