package writer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/vnykmshr/poolserve/pkg/metrics"
)

// ErrWriterClosed is returned when attempting to write to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// ErrBufferFull is returned by a non-blocking writer whose request queue is full.
var ErrBufferFull = errors.New("buffer is full")

// AsyncWriter buffers writes in memory and flushes them to an underlying
// writer from one background goroutine. It is safe for concurrent use.
type AsyncWriter interface {
	// Write queues a copy of p. It returns before the data reaches the
	// underlying writer; write errors are reported through Config.OnError
	// and Stats.
	io.Writer

	// WriteString queues s.
	WriteString(s string) (int, error)

	// WriteContext queues data, giving up when ctx is done.
	WriteContext(ctx context.Context, data []byte) error

	// Flush writes everything queued so far to the underlying writer.
	Flush(ctx context.Context) error

	// Close flushes remaining data and stops the background goroutine.
	// It does not close the underlying writer. Later calls return nil.
	Close() error

	// Stats returns statistics about the writer.
	Stats() Stats

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// Stats holds statistics about async writer performance.
type Stats struct {
	// WriteCount is the number of accepted writes.
	WriteCount int64

	// BytesWritten is the number of bytes that reached the underlying writer.
	BytesWritten int64

	// FlushCount is the number of flushes that wrote data.
	FlushCount int64

	// ErrorCount is the number of failed flushes.
	ErrorCount int64

	// BufferOverflows is the number of writes rejected with ErrBufferFull.
	BufferOverflows int64

	// LastFlush is when data was last written.
	LastFlush time.Time
}

// Config holds configuration options for AsyncWriter.
type Config struct {
	// BufferSize is the number of bytes held before a flush is forced.
	// Default: 64KB
	BufferSize int

	// QueueLength is the number of writes that may wait for the background
	// goroutine. Default: 256
	QueueLength int

	// FlushInterval is how often to flush the buffer automatically.
	// Set to 0 to disable automatic flushing.
	FlushInterval time.Duration

	// BlockOnFull makes writes wait for room in the queue instead of
	// returning ErrBufferFull.
	BlockOnFull bool

	// MaxRetries is the number of times a failed flush is retried.
	MaxRetries int

	// RetryDelay is the delay between retries. Default: 100ms
	RetryDelay time.Duration

	// Name labels metrics.
	Name string

	// Metrics receives flush and byte counts when set.
	Metrics *metrics.Registry

	// OnError is called when a flush fails after all retries.
	OnError func(error)

	// OnFlush is called after each flush that wrote data.
	OnFlush func(bytesWritten int, duration time.Duration)

	// OnBufferFull is called when a write is rejected with ErrBufferFull.
	OnBufferFull func()
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    64 * 1024,
		QueueLength:   256,
		FlushInterval: time.Second,
		BlockOnFull:   true,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		Name:          "default",
	}
}

type asyncWriter struct {
	underlying io.Writer
	config     Config

	// buf is owned by the loop goroutine
	buf []byte

	writeCh chan []byte
	flushCh chan chan error
	closeCh chan chan error
	wg      sync.WaitGroup

	// mu keeps Close from racing in-flight sends on writeCh.
	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates a new AsyncWriter with default configuration.
func New(w io.Writer) AsyncWriter {
	return NewWithConfig(w, DefaultConfig())
}

// NewWithConfig creates a new AsyncWriter with the specified configuration.
func NewWithConfig(w io.Writer, config Config) AsyncWriter {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.QueueLength <= 0 {
		config.QueueLength = defaults.QueueLength
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}

	aw := &asyncWriter{
		underlying: w,
		config:     config,
		buf:        make([]byte, 0, config.BufferSize),
		writeCh:    make(chan []byte, config.QueueLength),
		flushCh:    make(chan chan error),
		closeCh:    make(chan chan error),
	}

	aw.wg.Add(1)
	go aw.loop()

	return aw
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	if err := aw.enqueue(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (aw *asyncWriter) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

func (aw *asyncWriter) WriteContext(ctx context.Context, data []byte) error {
	return aw.enqueue(ctx, data)
}

func (aw *asyncWriter) enqueue(ctx context.Context, p []byte) error {
	aw.mu.RLock()
	defer aw.mu.RUnlock()

	if aw.closed {
		return ErrWriterClosed
	}
	if len(p) == 0 {
		return nil
	}

	data := make([]byte, len(p))
	copy(data, p)

	if aw.config.BlockOnFull {
		select {
		case aw.writeCh <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case aw.writeCh <- data:
		default:
			aw.updateStats(func(s *Stats) { s.BufferOverflows++ })
			if aw.config.OnBufferFull != nil {
				aw.config.OnBufferFull()
			}
			return ErrBufferFull
		}
	}

	aw.updateStats(func(s *Stats) { s.WriteCount++ })
	return nil
}

func (aw *asyncWriter) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	aw.mu.RLock()
	if aw.closed {
		aw.mu.RUnlock()
		return ErrWriterClosed
	}
	select {
	case aw.flushCh <- done:
	case <-ctx.Done():
		aw.mu.RUnlock()
		return ctx.Err()
	}
	aw.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return nil
	}
	aw.closed = true
	aw.mu.Unlock()

	done := make(chan error, 1)
	aw.closeCh <- done
	err := <-done
	aw.wg.Wait()
	return err
}

func (aw *asyncWriter) Stats() Stats {
	aw.statsMu.Lock()
	defer aw.statsMu.Unlock()
	return aw.stats
}

func (aw *asyncWriter) IsClosed() bool {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	return aw.closed
}

func (aw *asyncWriter) loop() {
	defer aw.wg.Done()

	var tick <-chan time.Time
	if aw.config.FlushInterval > 0 {
		ticker := time.NewTicker(aw.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-aw.writeCh:
			aw.append(data)
		case <-tick:
			_ = aw.flush()
		case done := <-aw.flushCh:
			aw.drain()
			done <- aw.flush()
		case done := <-aw.closeCh:
			aw.drain()
			done <- aw.flush()
			return
		}
	}
}

// drain moves every queued write into the buffer.
func (aw *asyncWriter) drain() {
	for {
		select {
		case data := <-aw.writeCh:
			aw.append(data)
		default:
			return
		}
	}
}

// append buffers data, flushing whenever BufferSize is reached. A write at
// least BufferSize long bypasses the buffer so it never grows.
func (aw *asyncWriter) append(data []byte) {
	limit := aw.config.BufferSize
	if len(aw.buf)+len(data) > limit {
		_ = aw.flush()
	}
	if len(data) >= limit {
		_ = aw.writeOut(data)
		return
	}
	aw.buf = append(aw.buf, data...)
	if len(aw.buf) >= limit {
		_ = aw.flush()
	}
}

// flush writes the buffer with retries. Data that still fails is dropped.
func (aw *asyncWriter) flush() error {
	if len(aw.buf) == 0 {
		return nil
	}
	err := aw.writeOut(aw.buf)
	aw.buf = aw.buf[:0]
	return err
}

// writeOut writes data to the underlying writer and records the outcome.
func (aw *asyncWriter) writeOut(data []byte) error {
	start := time.Now()
	written, err := aw.writeWithRetries(data)
	duration := time.Since(start)

	aw.updateStats(func(s *Stats) {
		s.BytesWritten += int64(written)
		if err != nil {
			s.ErrorCount++
			return
		}
		s.FlushCount++
		s.LastFlush = time.Now()
	})

	if m := aw.config.Metrics; m != nil {
		m.WriterBytesWritten.WithLabelValues(aw.config.Name).Add(float64(written))
		if err == nil {
			m.WriterFlushes.WithLabelValues(aw.config.Name).Inc()
		}
	}

	if err != nil {
		if aw.config.OnError != nil {
			aw.config.OnError(err)
		}
		return err
	}
	if aw.config.OnFlush != nil {
		aw.config.OnFlush(written, duration)
	}
	return nil
}

func (aw *asyncWriter) writeWithRetries(data []byte) (int, error) {
	var total int
	var lastErr error

	for attempt := 0; attempt <= aw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(aw.config.RetryDelay)
		}

		n, err := aw.underlying.Write(data[total:])
		total += n
		if err == nil && total >= len(data) {
			return total, nil
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		lastErr = err
	}

	return total, lastErr
}

func (aw *asyncWriter) updateStats(update func(*Stats)) {
	aw.statsMu.Lock()
	defer aw.statsMu.Unlock()
	update(&aw.stats)
}
