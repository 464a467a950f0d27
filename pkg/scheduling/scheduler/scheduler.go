package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

// Job describes a scheduled job.
type Job struct {
	ID      string
	NextRun time.Time
	Runs    int64
	Skipped int64
	Created time.Time
}

// Scheduler runs jobs on cron schedules. Each job's runs are serialized:
// a run that comes due while the previous one is still executing is skipped.
type Scheduler interface {
	// ScheduleCron schedules task with a cron expression. Both the five
	// field form and the six field form with leading seconds are accepted,
	// as are descriptors such as "@hourly" and "@every 30s".
	ScheduleCron(id string, cronExpr string, task workerpool.Task) error

	// ScheduleFunc schedules task with any cron.Schedule.
	ScheduleFunc(id string, schedule cron.Schedule, task workerpool.Task) error

	// ScheduleRepeating runs task every interval, starting one interval from now.
	ScheduleRepeating(id string, interval time.Duration, task workerpool.Task) error

	// Cancel removes a job. A run already in progress finishes.
	Cancel(id string) bool

	// List returns all jobs ordered by next run.
	List() []Job

	// Start begins dispatching due jobs.
	Start() error

	// Stop stops dispatching. The returned channel is closed once the
	// dispatch loop has exited and, for a scheduler that owns its pool,
	// every running job has finished.
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	// Pool executes due jobs. If nil the scheduler creates and owns a
	// single-worker pool.
	Pool workerpool.Pool

	// Location is used to evaluate cron expressions. Defaults to time.Local.
	Location *time.Location

	// TickInterval is how often due jobs are checked. Defaults to 50ms.
	TickInterval time.Duration

	// MaxJobs caps the number of scheduled jobs. Defaults to 1000.
	MaxJobs int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type scheduledJob struct {
	id       string
	task     workerpool.Task
	schedule cron.Schedule
	nextRun  time.Time
	created  time.Time

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

type scheduler struct {
	pool         workerpool.Pool
	ownPool      bool
	location     *time.Location
	tickInterval time.Duration
	maxJobs      int
	logger       *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
	done    chan struct{}
	loop    sync.WaitGroup
}

// New creates a scheduler with default configuration.
func New() (Scheduler, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) (Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := cfg.Pool
	ownPool := false
	if pool == nil {
		var err error
		pool, err = workerpool.NewWithConfig(workerpool.Config{
			Name:        "scheduler",
			WorkerCount: 1,
			QueueSize:   16,
			Logger:      logger,
		})
		if err != nil {
			return nil, errors.NewOperationError("scheduler", "New", err)
		}
		ownPool = true
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1000
	}

	return &scheduler{
		pool:         pool,
		ownPool:      ownPool,
		location:     location,
		tickInterval: tickInterval,
		maxJobs:      maxJobs,
		logger:       logger.With("component", "scheduler"),
		jobs:         make(map[string]*scheduledJob),
	}, nil
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, task workerpool.Task) error {
	if err := validation.ValidateNotEmpty("scheduler", "cron", cronExpr); err != nil {
		return err
	}
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	return s.ScheduleFunc(id, schedule, task)
}

func (s *scheduler) ScheduleRepeating(id string, interval time.Duration, task workerpool.Task) error {
	if interval <= 0 {
		return errors.NewValidationError("scheduler", "interval", interval, "must be positive")
	}
	return s.ScheduleFunc(id, Every(interval), task)
}

func (s *scheduler) ScheduleFunc(id string, schedule cron.Schedule, task workerpool.Task) error {
	if err := validation.ValidateNotEmpty("scheduler", "id", id); err != nil {
		return err
	}
	if err := validation.ValidateNotNil("scheduler", "task", task); err != nil {
		return err
	}
	if schedule == nil {
		return errors.NewValidationError("scheduler", "schedule", nil, "cannot be nil")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return errors.NewValidationError("scheduler", "id", id, "already scheduled").
			WithHint("cancel the existing job first")
	}
	if len(s.jobs) >= s.maxJobs {
		return fmt.Errorf("scheduler: %d jobs scheduled: %w", s.maxJobs, errors.ErrCapacityExceeded)
	}

	s.jobs[id] = &scheduledJob{
		id:       id,
		task:     task,
		schedule: schedule,
		nextRun:  schedule.Next(now.In(s.location)),
		created:  now,
	}
	return nil
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		delete(s.jobs, id)
		return true
	}
	return false
}

func (s *scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, Job{
			ID:      j.id,
			NextRun: j.nextRun,
			Runs:    j.runs.Load(),
			Skipped: j.skipped.Load(),
			Created: j.created,
		})
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].NextRun.Before(jobs[k].NextRun)
	})
	return jobs
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}
	s.running = true
	s.done = make(chan struct{})

	s.loop.Add(1)
	go s.run(s.done)
	return nil
}

func (s *scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.done)
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.loop.Wait()
		if s.ownPool {
			s.pool.Shutdown()
		}
	}()
	return stopped
}

func (s *scheduler) run(done <-chan struct{}) {
	defer s.loop.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.dispatchDue(now)
		}
	}
}

// dispatchDue submits every job whose next run has passed and advances
// its schedule.
func (s *scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	var due []*scheduledJob
	for _, j := range s.jobs {
		if now.Before(j.nextRun) {
			continue
		}
		j.nextRun = j.schedule.Next(now.In(s.location))
		if !j.running.CompareAndSwap(false, true) {
			j.skipped.Add(1)
			s.logger.Debug("job still running, skipping run", "job", j.id)
			continue
		}
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		if err := s.pool.Dispatch(s.wrap(j)); err != nil {
			j.running.Store(false)
			s.logger.Warn("job not dispatched", "job", j.id, "error", err)
		}
	}
}

func (s *scheduler) wrap(j *scheduledJob) workerpool.Task {
	return workerpool.TaskFunc(func(ctx context.Context) error {
		defer j.running.Store(false)
		j.runs.Add(1)

		if err := j.task.Execute(ctx); err != nil {
			s.logger.Warn("job failed", "job", j.id, "error", err)
			return err
		}
		return nil
	})
}
