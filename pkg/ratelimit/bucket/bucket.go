package bucket

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
)

// Allow reports whether an event may happen now.
func (tb *tokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (tb *tokenBucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.limit == Inf {
		return true
	}
	tb.refill(tb.clock.Now())
	if tb.tokens < float64(n) {
		return false
	}
	tb.tokens -= float64(n)
	return true
}

// Wait blocks until an event can happen.
func (tb *tokenBucket) Wait(ctx context.Context) error {
	return tb.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen. Tokens taken for a wait that is
// canceled are returned to the bucket. A wait that cannot finish before the
// context deadline fails at once with ErrTimeout.
func (tb *tokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay, err := tb.reserve(n)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		tb.release(n)
		return errors.NewOperationError("bucket", "WaitN", errors.ErrTimeout).
			WithContext(fmt.Sprintf("wait of %v exceeds context deadline", delay))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		tb.release(n)
		return ctx.Err()
	}
}

// Limit returns the current rate limit.
func (tb *tokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limit
}

// Burst returns the current burst size.
func (tb *tokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

// Tokens returns the number of tokens currently available.
func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.clock.Now())
	return tb.tokens
}

// reserve takes n tokens, letting the balance go negative, and returns how
// long the caller must wait before acting.
func (tb *tokenBucket) reserve(n int) (time.Duration, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.limit == Inf {
		return 0, nil
	}
	if n > tb.burst {
		return 0, errors.NewValidationError("bucket", "n", n, "exceeds burst").
			WithHint("request at most Burst() tokens at once")
	}

	tb.refill(tb.clock.Now())
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return 0, nil
	}
	if tb.limit == 0 {
		return 0, errors.ErrRateLimited
	}

	missing := float64(n) - tb.tokens
	tb.tokens -= float64(n)
	return time.Duration(float64(time.Second) * missing / float64(tb.limit)), nil
}

func (tb *tokenBucket) release(n int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.clock.Now())
	tb.tokens = math.Min(tb.tokens+float64(n), float64(tb.burst))
}

// refill adds the tokens earned since the last update. Callers hold mu.
func (tb *tokenBucket) refill(now time.Time) {
	if tb.limit == Inf {
		tb.tokens = float64(tb.burst)
		tb.lastUpdate = now
		return
	}

	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.lastUpdate = now
	if tb.limit == 0 {
		return
	}
	tb.tokens = math.Min(tb.tokens+elapsed.Seconds()*float64(tb.limit), float64(tb.burst))
}
