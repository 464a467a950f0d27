package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
	"github.com/vnykmshr/poolserve/pkg/metrics"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/bucket"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/distributed"
	"github.com/vnykmshr/poolserve/pkg/scheduling/scheduler"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

// Config holds server configuration.
type Config struct {
	// Name labels metrics and logs. Defaults to "http".
	Name string

	// Addr is the TCP address Serve listens on, e.g. ":8080".
	Addr string

	// Root is the directory files are served from. Defaults to ".".
	Root string

	// Workers and QueueSize size the worker pool.
	Workers   int
	QueueSize int

	// MaxRequests stops the server after that many accepted connections.
	// Zero means no limit.
	MaxRequests int

	// AcceptRate and AcceptBurst throttle the accept loop with a token
	// bucket. A zero rate disables throttling.
	AcceptRate  float64
	AcceptBurst int

	// ReadTimeout and WriteTimeout bound reading the request and writing
	// the response. Zero means no deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Admission, when set, is asked once per connection; a denied
	// connection is answered 503.
	Admission distributed.Limiter

	// AccessLog receives one line per answered request.
	AccessLog io.Writer

	// StatsInterval logs server and pool statistics periodically while
	// serving. Zero disables it.
	StatsInterval time.Duration

	// Metrics receives pool, server and accept limiter metrics when set.
	Metrics *metrics.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats is a snapshot of server counters.
type Stats struct {
	Accepted  int64
	Requests  int64
	Responses map[int]int64
	Bytes     int64
	Pool      workerpool.Stats
}

// Server accepts TCP connections and answers each one with a single
// HTTP/1.0 response on a worker pool.
type Server struct {
	config   Config
	logger   *slog.Logger
	pool     workerpool.Pool
	limiter  bucket.Limiter
	handler  *handler
	serving  atomic.Bool
	accepted atomic.Int64

	mu       sync.Mutex
	listener net.Listener
}

// New validates config and starts the worker pool.
func New(config Config) (*Server, error) {
	if config.Name == "" {
		config.Name = "http"
	}
	if config.Root == "" {
		config.Root = "."
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := validation.ValidateNonNegative("server", "max_requests", float64(config.MaxRequests)); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("server", "accept_rate", config.AcceptRate); err != nil {
		return nil, err
	}

	logger := config.Logger.With("server", config.Name)

	s := &Server{
		config: config,
		logger: logger,
	}
	s.handler = newHandler(config, logger)

	if config.AcceptRate > 0 {
		limiter, err := bucket.NewSafe(bucket.Limit(config.AcceptRate), config.AcceptBurst)
		if err != nil {
			return nil, err
		}
		if config.Metrics != nil {
			limiter = bucket.NewWithMetrics(limiter, config.Name+"_accept", config.Metrics)
		}
		s.limiter = limiter
	}

	poolConfig := workerpool.Config{
		Name:        config.Name,
		WorkerCount: config.Workers,
		QueueSize:   config.QueueSize,
		Logger:      logger,
	}
	var err error
	if config.Metrics != nil {
		s.pool, err = workerpool.NewWithMetrics(poolConfig, config.Metrics)
	} else {
		s.pool, err = workerpool.NewWithConfig(poolConfig)
	}
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Serve listens on config.Addr and serves until MaxRequests connections
// have been accepted or ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		s.pool.Shutdown()
		return errors.NewOperationError("server", "Serve", err).
			WithContext(fmt.Sprintf("listen %s", s.config.Addr))
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves connections from ln. When it returns every accepted
// connection has been answered, the pool has stopped and ln is closed.
// A Server serves at most once.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		_ = ln.Close()
		return errors.ErrClosed
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stopClose := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopClose()

	if s.config.StatsInterval > 0 {
		stopStats, err := s.startStats()
		if err != nil {
			s.logger.Warn("stats reporting disabled", "error", err)
		} else {
			defer stopStats()
		}
	}

	s.logger.Info("serving",
		"addr", ln.Addr().String(),
		"root", s.config.Root,
		"workers", s.pool.Size(),
		"queue", s.pool.Cap(),
		"max_requests", s.config.MaxRequests)

	s.acceptLoop(ctx, ln)

	s.pool.Shutdown()
	_ = ln.Close()

	s.logger.Info("stopped", "accepted", s.accepted.Load())
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	limit := int64(s.config.MaxRequests)
	var backoff time.Duration

	for limit == 0 || s.accepted.Load() < limit {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		s.accepted.Add(1)
		if m := s.config.Metrics; m != nil {
			m.ConnectionsAccepted.WithLabelValues(s.config.Name).Inc()
		}

		if err := s.pool.Dispatch(s.handler.task(conn)); err != nil {
			s.logger.Warn("connection dropped", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// Close stops the worker pool of a Server that was never served.
func (s *Server) Close() {
	s.pool.Shutdown()
}

// Addr returns the listener address once serving has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the worker pool has stopped.
func (s *Server) Done() <-chan struct{} {
	return s.pool.Done()
}

// Stats returns a snapshot of server and pool counters.
func (s *Server) Stats() Stats {
	requests, bytes, responses := s.handler.counters()
	return Stats{
		Accepted:  s.accepted.Load(),
		Requests:  requests,
		Responses: responses,
		Bytes:     bytes,
		Pool:      s.pool.Stats(),
	}
}

// LogStats writes the current Stats at info level.
func (s *Server) LogStats() {
	st := s.Stats()
	s.logger.Info("stats",
		"accepted", st.Accepted,
		"requests", st.Requests,
		"bytes", st.Bytes,
		"responses", st.Responses,
		"active", st.Pool.Active,
		"queued", st.Pool.Queued,
		"blocked_submits", st.Pool.Blocked,
		"dropped", st.Pool.Dropped)
}

func (s *Server) startStats() (func(), error) {
	sched, err := scheduler.NewWithConfig(scheduler.Config{
		TickInterval: tickFor(s.config.StatsInterval),
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}
	err = sched.ScheduleRepeating("stats", s.config.StatsInterval, workerpool.TaskFunc(func(context.Context) error {
		s.LogStats()
		return nil
	}))
	if err != nil {
		<-sched.Stop()
		return nil, err
	}
	if err := sched.Start(); err != nil {
		<-sched.Stop()
		return nil, err
	}
	return func() { <-sched.Stop() }, nil
}

// tickFor picks a scheduler tick fine enough for interval.
func tickFor(interval time.Duration) time.Duration {
	tick := interval / 10
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	return tick
}
