/*
Package poolserve is a static file server built around a bounded worker pool.

A fixed set of workers drains one FIFO queue of tasks. Producers block when
the queue is full, and shutdown drains every queued task before the workers
stop. The file server accepts TCP connections and submits one task per
connection.

Task Scheduling (pkg/scheduling):
  - workerpool: fixed workers over a bounded FIFO queue with backpressure
  - scheduler: cron and interval jobs dispatched onto a worker pool

Rate Limiting (pkg/ratelimit):
  - bucket: token bucket used to pace the accept loop
  - distributed: Redis fixed-window admission shared by several servers

Streaming (pkg/streaming):
  - writer: async buffered writer used for the access log

Serving (pkg/server):
  - server: HTTP/1.0 GET-only file server on a worker pool

Example usage:

	import "github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"

	pool, err := workerpool.New(5, 100) // 5 workers, queue 100
	if err != nil {
		log.Fatal(err)
	}
	pool.Submit(task)  // blocks while the queue is full
	pool.Shutdown()    // runs everything queued, then stops the workers

The poolserve command in cmd/poolserve wires these together.
*/
package poolserve
