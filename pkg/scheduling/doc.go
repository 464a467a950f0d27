/*
Package scheduling provides task execution primitives.

  - workerpool: fixed worker pool over a bounded FIFO queue
  - scheduler: time-based jobs executed on a worker pool

Worker Pool:

	pool, err := workerpool.New(4, 100) // 4 workers, queue size 100
	if err != nil {
		return err
	}
	defer pool.Shutdown()

	pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	}))

Scheduler:

	sched, err := scheduler.New()
	if err != nil {
		return err
	}
	defer func() { <-sched.Stop() }()

	_ = sched.ScheduleRepeating("stats", time.Minute, task)
	_ = sched.ScheduleCron("nightly", "0 3 * * *", task)
	_ = sched.Start()

Every job run is a task dispatched to the scheduler's pool, so a slow job
never delays the clock, and a job that is still running when it comes due
again is skipped rather than stacked.
*/
package scheduling
