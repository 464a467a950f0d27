/*
Package scheduler runs periodic jobs on cron schedules through a worker pool.

poolserve uses it to log pool and server statistics at a fixed interval, but
any workerpool.Task can be scheduled.

Basic Usage:

	s, err := scheduler.New()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { <-s.Stop() }()

	s.ScheduleCron("report", "@every 30s", task)
	s.ScheduleCron("rotate", "0 0 * * *", rotate)
	s.Start()

Expressions are parsed with github.com/robfig/cron/v3. A leading seconds
field is optional, and descriptors (@hourly, @daily, @every 1m30s) are
accepted. ScheduleRepeating accepts any positive interval, including
sub-second ones that cron.Every would round up. ScheduleFunc takes any
cron.Schedule.

Execution:

A ticker checks for due jobs every TickInterval and dispatches them to the
configured pool. A job whose previous run is still executing is skipped for
that tick and counted in Job.Skipped, so runs of one job never overlap.
Different jobs run concurrently when the pool has more than one worker.

When Config.Pool is nil the scheduler owns a single-worker pool and Stop
drains it. A shared pool is left running.
*/
package scheduler
