// Package metrics provides Prometheus instrumentation for poolserve components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for poolserve components.
type Registry struct {
	// Worker Pool Metrics
	TasksSubmitted        *prometheus.CounterVec
	TasksDropped          *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TasksPanicked         *prometheus.CounterVec
	SubmitBlocked         *prometheus.CounterVec
	TaskQueueWait         *prometheus.HistogramVec
	TaskExecutionDuration *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec

	// Server Metrics
	ConnectionsAccepted *prometheus.CounterVec
	RequestsTotal       *prometheus.CounterVec
	BytesServed         *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec

	// Rate Limiting Metrics
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec
	RateLimitWaitTime *prometheus.HistogramVec

	// Access log writer
	WriterFlushes      *prometheus.CounterVec
	WriterBytesWritten *prometheus.CounterVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns a registry bound to prometheus.DefaultRegisterer.
// It is created on first use so importing the package registers nothing.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of config. A nil config.Registry means the default registerer.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	}

	return &Registry{
		TasksSubmitted: counter("workerpool", "tasks_submitted_total",
			"Total number of tasks accepted into the queue", "pool_name"),
		TasksDropped: counter("workerpool", "tasks_dropped_total",
			"Total number of submissions dropped because the pool was shutting down", "pool_name"),
		TasksCompleted: counter("workerpool", "tasks_completed_total",
			"Total number of tasks that returned without error", "pool_name"),
		TasksFailed: counter("workerpool", "tasks_failed_total",
			"Total number of tasks that returned an error", "pool_name"),
		TasksPanicked: counter("workerpool", "tasks_panicked_total",
			"Total number of tasks that panicked", "pool_name"),
		SubmitBlocked: counter("workerpool", "submit_blocked_total",
			"Total number of submissions that waited for a free queue slot", "pool_name"),
		TaskQueueWait: histogram("workerpool", "task_queue_wait_seconds",
			"Time tasks spent queued before a worker picked them up", "pool_name"),
		TaskExecutionDuration: histogram("workerpool", "task_duration_seconds",
			"Time spent executing tasks", "pool_name"),
		WorkerPoolSize: gauge("workerpool", "size",
			"Number of workers in the pool", "pool_name"),
		WorkerPoolActive: gauge("workerpool", "active_workers",
			"Number of workers executing a task", "pool_name"),
		WorkerPoolQueued: gauge("workerpool", "queued_tasks",
			"Number of tasks waiting in the queue", "pool_name"),

		ConnectionsAccepted: counter("server", "connections_accepted_total",
			"Total number of accepted connections", "server_name"),
		RequestsTotal: counter("server", "requests_total",
			"Total number of answered requests by status code", "server_name", "code"),
		BytesServed: counter("server", "bytes_served_total",
			"Total response bytes written", "server_name"),
		RequestDuration: histogram("server", "request_duration_seconds",
			"Time from task start to connection close", "server_name"),

		RateLimitAllowed: counter("ratelimit", "allowed_total",
			"Total number of allowed requests", "limiter_type", "limiter_name"),
		RateLimitDenied: counter("ratelimit", "denied_total",
			"Total number of denied requests", "limiter_type", "limiter_name"),
		RateLimitWaitTime: histogram("ratelimit", "wait_duration_seconds",
			"Time spent waiting for rate limit approval", "limiter_type", "limiter_name"),

		WriterFlushes: counter("writer", "flushes_total",
			"Total number of writer flushes", "writer_name"),
		WriterBytesWritten: counter("writer", "bytes_written_total",
			"Total bytes written", "writer_name"),
	}
}
