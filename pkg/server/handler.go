package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/poolserve/pkg/metrics"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/distributed"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

const (
	// requestBufferSize is the most a request may occupy; one read is made.
	requestBufferSize = 4096

	maxMethodLen   = 15
	maxPathLen     = 255
	maxProtocolLen = 15
)

// request is one parsed request line.
type request struct {
	id       string
	remote   string
	method   string
	path     string
	protocol string
	start    time.Time
}

type handler struct {
	root         string
	name         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	admission    distributed.Limiter
	accessLog    io.Writer
	metrics      *metrics.Registry
	logger       *slog.Logger

	requests atomic.Int64
	bytes    atomic.Int64

	mu        sync.Mutex
	responses map[int]int64
}

func newHandler(config Config, logger *slog.Logger) *handler {
	return &handler{
		root:         config.Root,
		name:         config.Name,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		admission:    config.Admission,
		accessLog:    config.AccessLog,
		metrics:      config.Metrics,
		logger:       logger,
		responses:    make(map[int]int64),
	}
}

// task wraps conn in a pool task that answers it and closes it.
func (h *handler) task(conn net.Conn) workerpool.Task {
	return workerpool.TaskFunc(func(ctx context.Context) error {
		defer conn.Close()
		return h.serveConn(ctx, conn)
	})
}

func (h *handler) serveConn(ctx context.Context, conn net.Conn) error {
	req := &request{
		id:     uuid.NewString(),
		remote: conn.RemoteAddr().String(),
		method: "-",
		path:   "-",
		start:  time.Now(),
	}
	logger := h.logger.With("request_id", req.id, "remote", req.remote)

	if h.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	buf := make([]byte, requestBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		logger.Debug("empty request", "error", err)
		return nil
	}

	if h.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	rw := &responseWriter{w: conn}

	if h.admission != nil && !h.admission.Allow(ctx) {
		parseRequestLine(buf[:n], req)
		err = rw.writeError(statusServiceUnavailable, "Server is busy, try again later.")
	} else {
		err = h.respond(rw, buf[:n], req)
	}

	h.record(req, rw)
	if err != nil {
		logger.Debug("response not fully written", "status", rw.status, "error", err)
		return fmt.Errorf("write response to %s: %w", req.remote, err)
	}
	logger.Debug("request served", "method", req.method, "path", req.path, "status", rw.status)
	return nil
}

// respond routes a raw request to the matching response.
func (h *handler) respond(rw *responseWriter, raw []byte, req *request) error {
	if !parseRequestLine(raw, req) {
		return rw.writeError(statusBadRequest, "Invalid request format")
	}
	if req.method != "GET" {
		return rw.writeError(statusNotSupported, "Method is not supported.")
	}

	target := resolve(h.root, req.path)
	info, err := os.Stat(target)
	if err != nil {
		return rw.writeError(statusNotFound, "File not found.")
	}

	if !info.IsDir() {
		return rw.writeFile(target, info)
	}
	if !strings.HasSuffix(req.path, "/") {
		return rw.writeRedirect(req.path + "/")
	}

	index := filepath.Join(target, "index.html")
	if st, err := os.Stat(index); err == nil && st.Mode().IsRegular() {
		return rw.writeFile(index, st)
	}
	return rw.writeListing(target, req.path)
}

// parseRequestLine fills method, path and protocol from the first three
// whitespace separated tokens. It reports false when there are fewer than
// three or one is too long.
func parseRequestLine(raw []byte, req *request) bool {
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return false
	}
	method, target, protocol := fields[0], fields[1], fields[2]
	if len(method) > maxMethodLen || len(target) > maxPathLen || len(protocol) > maxProtocolLen {
		return false
	}
	req.method, req.path, req.protocol = method, target, protocol
	return true
}

// resolve maps a request path to a file under root. Cleaning the path as
// if it were absolute removes every ".." that would climb above root.
func resolve(root, requestPath string) string {
	cleaned := path.Clean("/" + requestPath)
	return filepath.Join(root, filepath.FromSlash(cleaned))
}

func (h *handler) record(req *request, rw *responseWriter) {
	elapsed := time.Since(req.start)

	h.requests.Add(1)
	h.bytes.Add(rw.written)
	h.mu.Lock()
	h.responses[rw.status]++
	h.mu.Unlock()

	if m := h.metrics; m != nil {
		m.RequestsTotal.WithLabelValues(h.name, fmt.Sprint(rw.status)).Inc()
		m.BytesServed.WithLabelValues(h.name).Add(float64(rw.written))
		m.RequestDuration.WithLabelValues(h.name).Observe(elapsed.Seconds())
	}

	if h.accessLog != nil {
		line := formatAccessLog(req, rw.status, rw.written, elapsed)
		if _, err := io.WriteString(h.accessLog, line); err != nil {
			h.logger.Warn("access log write failed", "error", err)
		}
	}
}

func (h *handler) counters() (requests, bytes int64, responses map[int]int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	responses = make(map[int]int64, len(h.responses))
	for code, n := range h.responses {
		responses[code] = n
	}
	return h.requests.Load(), h.bytes.Load(), responses
}

// formatAccessLog renders one access log line:
//
//	<request-id> <remote> "<method> <path>" <status> <bytes> <duration>
func formatAccessLog(req *request, status int, written int64, elapsed time.Duration) string {
	return fmt.Sprintf("%s %s \"%s %s\" %d %d %s\n",
		req.id, req.remote, req.method, req.path, status, written, elapsed.Round(time.Microsecond))
}
