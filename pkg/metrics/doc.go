// Package metrics provides Prometheus instrumentation for poolserve.
//
// A Registry groups the collectors used by the worker pool, the file server,
// the accept-loop rate limiters and the access log writer. Components take a
// *Registry and update it; nothing is registered until a Registry is built.
//
// Use a private Prometheus registry to keep instances isolated:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//	pool, err := workerpool.NewWithMetrics(workerpool.Config{
//		Name:        "http",
//		WorkerCount: 8,
//		QueueSize:   64,
//	}, m)
//
// and expose it:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Metric names are prefixed with the namespace ("poolserve" by default), for
// example poolserve_workerpool_queued_tasks and
// poolserve_server_requests_total{code="404"}.
package metrics
