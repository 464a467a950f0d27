package testutil

import (
	"sync"
	"time"
)

// MockClock is a manually advanced clock for rate limiter and scheduler tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// FailingWriter returns err from every Write after the first n successful writes.
type FailingWriter struct {
	mu     sync.Mutex
	buf    []byte
	okLeft int
	err    error
	calls  int
}

// NewFailingWriter creates a FailingWriter that accepts n writes before failing.
func NewFailingWriter(n int, err error) *FailingWriter {
	return &FailingWriter{okLeft: n, err: err}
}

// Write implements io.Writer.
func (w *FailingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.okLeft <= 0 {
		return 0, w.err
	}
	w.okLeft--
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// String returns everything written successfully.
func (w *FailingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

// Calls returns the number of Write calls, failed ones included.
func (w *FailingWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
