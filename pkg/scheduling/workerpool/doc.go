/*
Package workerpool provides a fixed-size worker pool that drains one bounded
FIFO queue.

A pool owns a ring buffer of QueueSize slots and WorkerCount goroutines. All
queue and lifecycle state sits behind a single mutex with three condition
variables: one wakes workers when work arrives, one wakes producers when a
slot frees up, and one wakes Shutdown when the queue becomes empty.

Basic usage:

	pool, err := workerpool.New(4, 100) // 4 workers, queue size 100
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Shutdown()

	pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	}))

Limits:

Both bounds are validated at creation: 1 <= WorkerCount <= MaxWorkers and
1 <= QueueSize <= MaxQueueSize. Out-of-range values return a
*errors.ValidationError and start no goroutines.

Backpressure:

Submit never buffers beyond QueueSize. When the queue is full the caller
blocks until a worker takes a task off the head. There is no timeout and no
cancellation; a producer that must not block should size the queue for its
burst or run Submit in its own goroutine.

Ordering:

Tasks are dequeued in the order they were accepted, across all producers.
Completion order is not guaranteed: two tasks picked up by different
workers may finish in either order.

Shutdown:

Shutdown runs in four steps:

 1. stop accepting; producers blocked on a full queue wake up and drop
    their task
 2. wait until every queued task has been picked up
 3. mark the pool as shutting down and wake all idle workers
 4. join every worker

A task already running when Shutdown starts finishes normally. After
Shutdown begins, Submit drops tasks silently. Callers that need to know
whether a task was accepted use Dispatch, which returns errors.ErrClosed for
a dropped task:

	if err := pool.Dispatch(task); errors.Is(err, gferrors.ErrClosed) {
		// pool is shutting down
	}

Shutdown must not be called from inside a task: it waits for all workers,
including the one running the caller.

Failures:

Errors returned by tasks are counted and reported to OnTaskComplete but never
retried. A panicking task is recovered, handed to PanicHandler (or logged
with its stack) and the worker carries on with the next task.

If an OnWorkerStart hook returns an error, NewWithConfig stops the workers
that already started, waits for them, and returns an *errors.OperationError.

Metrics:

NewWithMetrics wires the pool hooks to a metrics.Registry:

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	pool, err := workerpool.NewWithMetrics(workerpool.Config{
		Name:        "http",
		WorkerCount: 8,
		QueueSize:   64,
	}, reg)

It reports submitted, dropped, completed, failed and panicked tasks, blocked
submissions, queue wait and execution histograms, and size, active and
queued gauges.
*/
package workerpool
