package workerpool

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
)

// Submit adds a task to the pool for execution.
// It blocks while the queue is full and silently drops the task once
// shutdown has begun. A nil pool or nil task is a no-op.
func (p *workerPool) Submit(task Task) {
	_ = p.Dispatch(task)
}

// Dispatch adds a task to the pool and reports whether it was accepted.
func (p *workerPool) Dispatch(task Task) error {
	if p == nil {
		return errors.NewValidationError("workerpool", "pool", nil, "cannot be nil")
	}
	if err := validateTask(task); err != nil {
		return err
	}

	p.mu.Lock()

	if !p.accepting || p.shuttingDown {
		p.mu.Unlock()
		p.drop(task)
		return errors.ErrClosed
	}

	var blockedAt time.Time
	for p.queue.full() && p.accepting {
		if blockedAt.IsZero() {
			blockedAt = time.Now()
			p.totalBlocked.Add(1)
		}
		p.notFull.Wait()
	}

	// Shutdown may have started while we waited for a slot.
	if !p.accepting || p.shuttingDown {
		p.mu.Unlock()
		p.drop(task)
		return errors.ErrClosed
	}

	p.queue.push(entry{task: task, seq: p.nextSeq, enqueued: time.Now()})
	p.nextSeq++
	p.totalSubmitted.Add(1)
	p.notEmpty.Signal()
	p.mu.Unlock()

	if !blockedAt.IsZero() && p.config.OnBackpressure != nil {
		p.config.OnBackpressure(time.Since(blockedAt))
	}

	return nil
}

func validateTask(task Task) error {
	if err := validation.ValidateNotNil("workerpool", "task", task); err != nil {
		return err
	}
	if f, ok := task.(TaskFunc); ok && f == nil {
		return errors.NewValidationError("workerpool", "task", nil, "cannot be nil").
			WithHint("provide a non-nil TaskFunc")
	}
	return nil
}

func (p *workerPool) drop(task Task) {
	p.totalDropped.Add(1)
	p.logger.Debug("task dropped, pool is shutting down")
	if p.config.OnDrop != nil {
		p.config.OnDrop(task)
	}
}

// Shutdown initiates a graceful shutdown of the pool and blocks until every
// worker has exited.
func (p *workerPool) Shutdown() {
	if p == nil {
		return
	}
	p.shutdownOnce.Do(p.shutdown)
}

func (p *workerPool) shutdown() {
	start := time.Now()

	p.mu.Lock()
	p.accepting = false
	// Blocked submitters must re-check accepting and drop their task.
	p.notFull.Broadcast()

	for !p.queue.empty() {
		p.drained.Wait()
	}

	p.shuttingDown = true
	p.notEmpty.Broadcast()
	p.mu.Unlock()

	p.workerWg.Wait()
	close(p.done)

	p.logger.Debug("worker pool stopped",
		"completed", p.totalCompleted.Load(),
		"dropped", p.totalDropped.Load(),
		"elapsed", time.Since(start))
}

// Done returns a channel closed after Shutdown has joined all workers.
func (p *workerPool) Done() <-chan struct{} {
	return p.done
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// Cap returns the queue capacity.
func (p *workerPool) Cap() int {
	return p.config.QueueSize
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	return int(p.active.Load())
}

// LiveWorkers returns the number of worker goroutines still running.
func (p *workerPool) LiveWorkers() int {
	return int(p.live.Load())
}

// TotalSubmitted returns the total number of tasks accepted into the queue.
func (p *workerPool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks that finished executing.
func (p *workerPool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// TotalFailed returns the number of tasks that returned an error or panicked.
func (p *workerPool) TotalFailed() int64 {
	return p.totalFailed.Load()
}

// TotalDropped returns the number of dropped submissions.
func (p *workerPool) TotalDropped() int64 {
	return p.totalDropped.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *workerPool) Stats() Stats {
	p.mu.Lock()
	queued := p.queue.len()
	accepting := p.accepting
	p.mu.Unlock()

	return Stats{
		Workers:     p.config.WorkerCount,
		LiveWorkers: p.LiveWorkers(),
		Active:      p.ActiveWorkers(),
		Queued:      queued,
		Capacity:    p.config.QueueSize,
		Submitted:   p.totalSubmitted.Load(),
		Completed:   p.totalCompleted.Load(),
		Failed:      p.totalFailed.Load(),
		Dropped:     p.totalDropped.Load(),
		Blocked:     p.totalBlocked.Load(),
		Accepting:   accepting,
	}
}

// run is the body of one worker goroutine.
func (p *workerPool) run(id int, started chan<- error) {
	defer p.workerWg.Done()

	if hook := p.config.OnWorkerStart; hook != nil {
		if err := hook(id); err != nil {
			started <- fmt.Errorf("worker %d failed to start: %w", id, err)
			return
		}
	}

	p.live.Add(1)
	defer p.live.Add(-1)
	if p.config.OnWorkerStop != nil {
		defer p.config.OnWorkerStop(id)
	}

	started <- nil

	for {
		e, ok := p.next()
		if !ok {
			return
		}
		p.execute(id, e)
	}
}

// next blocks until a task is available or the pool has shut down.
// It reports false when the worker should exit.
func (p *workerPool) next() (entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.empty() && !p.shuttingDown {
		p.notEmpty.Wait()
	}

	if p.queue.empty() {
		return entry{}, false
	}

	e := p.queue.pop()
	if p.onDequeue != nil {
		p.onDequeue(e)
	}
	p.active.Add(1)

	if p.queue.empty() {
		p.drained.Broadcast()
	}
	// Signal on every removal: with several blocked submitters a slot freed
	// by a non-full queue must still wake one of them.
	p.notFull.Signal()

	return e, true
}

// execute runs one task outside the pool lock and recovers from panics.
func (p *workerPool) execute(workerID int, e entry) {
	start := time.Now()
	result := Result{
		Task:      e.task,
		Seq:       e.seq,
		QueueWait: start.Sub(e.enqueued),
		WorkerID:  workerID,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Panicked = true
			result.Error = fmt.Errorf("task panicked: %v", r)
			p.handlePanic(e.task, r)
		}
		result.Duration = time.Since(start)

		p.active.Add(-1)
		if result.Error != nil {
			p.totalFailed.Add(1)
		}
		p.totalCompleted.Add(1)

		if p.config.OnTaskComplete != nil {
			p.config.OnTaskComplete(workerID, result)
		}
	}()

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(workerID, e.task)
	}

	result.Error = e.task.Execute(p.ctx)
}

func (p *workerPool) handlePanic(task Task, recovered interface{}) {
	if p.config.PanicHandler != nil {
		p.config.PanicHandler(task, recovered)
		return
	}
	p.logger.Error("task panicked",
		"panic", fmt.Sprint(recovered),
		"stack", string(debug.Stack()))
}
