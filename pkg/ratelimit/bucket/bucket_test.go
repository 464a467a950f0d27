package bucket

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/poolserve/internal/testutil"
	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/metrics"
)

func newTestLimiter(t *testing.T, rate Limit, burst int, clock Clock) Limiter {
	t.Helper()
	limiter, err := NewWithConfigSafe(Config{
		Rate:          rate,
		Burst:         burst,
		Clock:         clock,
		InitialTokens: -1,
	})
	testutil.AssertNoError(t, err)
	return limiter
}

func TestNewSafe(t *testing.T) {
	tests := []struct {
		name    string
		rate    Limit
		burst   int
		wantErr bool
	}{
		{"valid parameters", 10, 5, false},
		{"zero rate", 0, 5, false},
		{"infinite rate", Inf, 5, false},
		{"negative rate", -1, 5, true},
		{"zero burst", 10, 0, true},
		{"negative burst", 10, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewSafe(tt.rate, tt.burst)
			if tt.wantErr {
				testutil.AssertError(t, err)
				testutil.AssertEqual(t, limiter == nil, true)
				testutil.AssertEqual(t, errors.IsValidationError(err), true)
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, limiter.Limit(), tt.rate)
			testutil.AssertEqual(t, limiter.Burst(), tt.burst)
			testutil.AssertEqual(t, limiter.Tokens(), float64(tt.burst))
		})
	}
}

func TestInitialTokens(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	limiter, err := NewWithConfigSafe(Config{Rate: 1, Burst: 5, Clock: clock, InitialTokens: 2})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, limiter.Tokens(), 2.0)

	limiter, err = NewWithConfigSafe(Config{Rate: 1, Burst: 5, Clock: clock, InitialTokens: 50})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, limiter.Tokens(), 5.0)
}

func TestEvery(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     Limit
	}{
		{"100ms", 100 * time.Millisecond, 10},
		{"1s", time.Second, 1},
		{"2s", 2 * time.Second, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, Every(tt.interval), tt.want)
		})
	}

	testutil.AssertEqual(t, math.IsInf(float64(Every(0)), 1), true)
	testutil.AssertEqual(t, math.IsInf(float64(Every(-time.Second)), 1), true)
}

func TestAllowRefill(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	limiter := newTestLimiter(t, 10, 3, clock)

	for i := 0; i < 3; i++ {
		testutil.AssertEqual(t, limiter.Allow(), true)
	}
	testutil.AssertEqual(t, limiter.Allow(), false)

	clock.Advance(100 * time.Millisecond)
	testutil.AssertEqual(t, limiter.Allow(), true)
	testutil.AssertEqual(t, limiter.Allow(), false)

	// refill is capped at burst
	clock.Advance(10 * time.Second)
	testutil.AssertEqual(t, limiter.Tokens(), 3.0)
}

func TestAllowN(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	limiter := newTestLimiter(t, 2, 5, clock)

	testutil.AssertEqual(t, limiter.AllowN(0), true)
	testutil.AssertEqual(t, limiter.AllowN(4), true)
	testutil.AssertEqual(t, limiter.AllowN(2), false)
	// a denied AllowN takes nothing
	testutil.AssertEqual(t, limiter.Tokens(), 1.0)

	clock.Advance(500 * time.Millisecond)
	testutil.AssertEqual(t, limiter.AllowN(2), true)
}

func TestZeroRate(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	limiter := newTestLimiter(t, 0, 2, clock)

	testutil.AssertEqual(t, limiter.Allow(), true)
	testutil.AssertEqual(t, limiter.Allow(), true)
	clock.Advance(time.Hour)
	testutil.AssertEqual(t, limiter.Allow(), false)

	err := limiter.Wait(context.Background())
	testutil.AssertEqual(t, err, errors.ErrRateLimited)
}

func TestInfiniteRate(t *testing.T) {
	limiter := newTestLimiter(t, Inf, 1, nil)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d denied with infinite rate", i)
		}
	}
	testutil.AssertNoError(t, limiter.WaitN(context.Background(), 100))
}

func TestWait(t *testing.T) {
	limiter := newTestLimiter(t, 100, 1, nil)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, limiter.Wait(ctx))
	}
	// the first token is free, the next two cost 10ms each
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("three waits took %v, expected at least 15ms", elapsed)
	}
}

func TestWaitCanceledReturnsTokens(t *testing.T) {
	limiter := newTestLimiter(t, 1, 1, nil)
	testutil.AssertEqual(t, limiter.Allow(), true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	err := limiter.Wait(ctx)
	testutil.AssertEqual(t, stderrors.Is(err, context.Canceled), true)
	// the canceled reservation gave its token back
	if tokens := limiter.Tokens(); tokens < 0 {
		t.Fatalf("tokens = %v after canceled wait, want >= 0", tokens)
	}
}

func TestWaitBeyondDeadlineFailsFast(t *testing.T) {
	limiter := newTestLimiter(t, 1, 1, nil)
	testutil.AssertEqual(t, limiter.Allow(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx)
	testutil.AssertEqual(t, stderrors.Is(err, errors.ErrTimeout), true)
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("wait returned after %v, want no sleep until the deadline", elapsed)
	}
	if tokens := limiter.Tokens(); tokens < 0 {
		t.Fatalf("tokens = %v after refused wait, want >= 0", tokens)
	}
	testutil.AssertEqual(t, ctx.Err(), nil)
}

func TestWaitAlreadyCanceled(t *testing.T) {
	limiter := newTestLimiter(t, 10, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.AssertEqual(t, limiter.Wait(ctx), context.Canceled)
	testutil.AssertEqual(t, limiter.Tokens(), 1.0)
}

func TestWaitNAboveBurst(t *testing.T) {
	limiter := newTestLimiter(t, 10, 2, nil)
	err := limiter.WaitN(context.Background(), 3)
	testutil.AssertEqual(t, errors.IsValidationError(err), true)
}

func TestConcurrentAccess(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	limiter := newTestLimiter(t, 1, 50, clock)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if limiter.Allow() {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, atomic.LoadInt64(&allowed), int64(50))
}

func TestMetricsLimiter(t *testing.T) {
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	clock := testutil.NewMockClock(time.Time{})
	limiter := NewWithMetrics(newTestLimiter(t, 1, 2, clock), "accept", registry)

	limiter.Allow()
	limiter.Allow()
	limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	testutil.AssertError(t, limiter.Wait(ctx))

	allowed := promtest.ToFloat64(registry.RateLimitAllowed.WithLabelValues(limiterType, "accept"))
	denied := promtest.ToFloat64(registry.RateLimitDenied.WithLabelValues(limiterType, "accept"))
	testutil.AssertEqual(t, allowed, 2.0)
	testutil.AssertEqual(t, denied, 2.0)
	testutil.AssertEqual(t, promtest.CollectAndCount(registry.RateLimitWaitTime), 1)
}
