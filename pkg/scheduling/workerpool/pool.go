package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
)

const (
	// MaxWorkers is the largest WorkerCount accepted by New.
	MaxWorkers = 200

	// MaxQueueSize is the largest QueueSize accepted by New.
	MaxQueueSize = 200
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task. Errors are recorded but never retried.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result describes one finished task. It is passed to Config.OnTaskComplete.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Seq is the position at which the task was accepted into the queue,
	// starting at 0.
	Seq uint64

	// Error is the error returned by the task, or a wrapped panic value
	Error error

	// Panicked reports whether the task panicked
	Panicked bool

	// QueueWait is how long the task sat in the queue
	QueueWait time.Duration

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers     int
	LiveWorkers int
	Active      int
	Queued      int
	Capacity    int
	Submitted   int64
	Completed   int64
	Failed      int64
	Dropped     int64
	Blocked     int64
	Accepting   bool
}

// Pool is a fixed set of workers draining one bounded FIFO queue.
type Pool interface {
	// Submit enqueues task, blocking while the queue is full.
	// Once shutdown has begun the task is silently dropped.
	Submit(task Task)

	// Dispatch behaves like Submit but reports the outcome: nil when the
	// task was enqueued, errors.ErrClosed when it was dropped.
	Dispatch(task Task) error

	// Shutdown stops accepting tasks, waits for the queue to drain, then
	// stops and joins every worker. Later calls wait for the first to finish.
	// It must not be called from inside a task.
	Shutdown()

	// Done is closed once Shutdown has joined every worker.
	Done() <-chan struct{}

	// Size returns the number of workers in the pool.
	Size() int

	// Cap returns the queue capacity.
	Cap() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// LiveWorkers returns the number of worker goroutines that have not exited.
	LiveWorkers() int

	// TotalSubmitted returns the number of tasks accepted into the queue.
	TotalSubmitted() int64

	// TotalCompleted returns the number of tasks that finished, failed ones included.
	TotalCompleted() int64

	// TotalFailed returns the number of tasks that returned an error or panicked.
	TotalFailed() int64

	// TotalDropped returns the number of submissions dropped during shutdown.
	TotalDropped() int64

	// Stats returns a snapshot of all counters.
	Stats() Stats
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// WorkerCount is the number of workers, 1..MaxWorkers.
	WorkerCount int

	// QueueSize is the queue capacity, 1..MaxQueueSize.
	QueueSize int

	// Logger receives lifecycle and panic logs. Defaults to slog.Default().
	Logger *slog.Logger

	// BaseContext is passed to every Task.Execute. Defaults to
	// context.Background(). The pool never cancels it.
	BaseContext context.Context

	// PanicHandler is called when a task panics. If nil, the panic and its
	// stack are logged at error level.
	PanicHandler func(task Task, recovered interface{})

	// OnWorkerStart runs on each worker goroutine before it takes work.
	// A non-nil error aborts pool creation.
	OnWorkerStart func(workerID int) error

	// OnWorkerStop is called when a worker exits.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)

	// OnDrop is called for every submission dropped during shutdown.
	OnDrop func(task Task)

	// OnBackpressure is called after a submission that had to wait for a
	// free queue slot, with the time it waited.
	OnBackpressure func(waited time.Duration)
}

// entry is a queued task.
type entry struct {
	task     Task
	seq      uint64
	enqueued time.Time
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger *slog.Logger
	ctx    context.Context

	// mu guards queue, accepting, shuttingDown and nextSeq.
	mu           sync.Mutex
	queue        *queue[entry]
	accepting    bool
	shuttingDown bool
	nextSeq      uint64

	notEmpty *sync.Cond // work available
	notFull  *sync.Cond // free slot available
	drained  *sync.Cond // queue became empty

	// called with mu held for every dequeued entry; tests only
	onDequeue func(e entry)

	workerWg     sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}

	live           atomic.Int32
	active         atomic.Int32
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalDropped   atomic.Int64
	totalBlocked   atomic.Int64
}

// New creates a worker pool with workerCount workers and a queue of queueSize slots.
func New(workerCount, queueSize int) (Pool, error) {
	return NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
}

// NewWithConfig creates a worker pool from config. Invalid bounds return a
// *errors.ValidationError. If any OnWorkerStart hook fails, the workers that
// did start are stopped and joined before an *errors.OperationError is returned.
func NewWithConfig(config Config) (Pool, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := config.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}

	p := &workerPool{
		config:    config,
		logger:    logger.With("pool", config.Name),
		ctx:       ctx,
		queue:     newQueue[entry](config.QueueSize),
		accepting: true,
		done:      make(chan struct{}),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	p.drained = sync.NewCond(&p.mu)

	started := make(chan error, config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		p.workerWg.Add(1)
		go p.run(i, started)
	}

	var startErr error
	for i := 0; i < config.WorkerCount; i++ {
		if err := <-started; err != nil && startErr == nil {
			startErr = err
		}
	}

	if startErr != nil {
		p.Shutdown()
		return nil, errors.NewOperationError("workerpool", "New", startErr).
			WithContext(fmt.Sprintf("pool %q rolled back", config.Name))
	}

	p.logger.Debug("worker pool started",
		"workers", config.WorkerCount,
		"queue_size", config.QueueSize)

	return p, nil
}

func validateConfig(config Config) error {
	if err := validation.ValidateRange("workerpool", "workers", config.WorkerCount, 1, MaxWorkers); err != nil {
		return err
	}
	return validation.ValidateRange("workerpool", "queue_size", config.QueueSize, 1, MaxQueueSize)
}
