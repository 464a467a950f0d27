package distributed

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
	"github.com/vnykmshr/poolserve/pkg/metrics"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/bucket"
)

// Limiter admits events against a limit shared by every instance that uses
// the same Redis key.
type Limiter interface {
	// Allow reports whether one event may happen in the current window.
	Allow(ctx context.Context) bool

	// AllowN reports whether n events may happen in the current window.
	AllowN(ctx context.Context, n int) bool

	// Wait blocks until an event is admitted or ctx is done.
	Wait(ctx context.Context) error

	// Stats returns the shared counters.
	Stats(ctx context.Context) (*Stats, error)

	// Reset clears the shared state.
	Reset(ctx context.Context) error

	// Close deregisters this instance.
	Close() error
}

// Stats holds distributed rate limiter statistics.
type Stats struct {
	Rate            float64
	Remaining       float64
	WindowStart     time.Time
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// Config holds configuration for the fixed window limiter.
type Config struct {
	// Redis client for coordination
	Redis redis.UniversalClient

	// Key is the Redis key prefix for this limiter
	Key string

	// Rate is the number of events admitted per one-second window
	Rate float64

	// Burst sizes the local fallback bucket; the Redis window ignores it
	Burst int

	// InstanceID identifies this process in the instance set.
	// Defaults to a random UUID.
	InstanceID string

	// FallbackToLocal admits through LocalLimiter while Redis is unreachable.
	FallbackToLocal bool

	// LocalLimiter is used when Redis is unavailable. When nil and
	// FallbackToLocal is set, a bucket limiter with Rate and Burst is built.
	LocalLimiter bucket.Limiter

	// RedisTimeout bounds every Redis round trip
	RedisTimeout time.Duration

	// RetryInterval is how often Wait retries a denied request
	RetryInterval time.Duration

	// KeyTTL is how long config, stats and instance keys live
	KeyTTL time.Duration

	// Name labels metrics. Defaults to Key.
	Name string

	// Metrics receives allowed and denied counts when set
	Metrics *metrics.Registry

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with fallback enabled and the
// usual timeouts.
func DefaultConfig() Config {
	return Config{
		InstanceID:      uuid.NewString(),
		FallbackToLocal: true,
		RedisTimeout:    500 * time.Millisecond,
		RetryInterval:   100 * time.Millisecond,
		KeyTTL:          time.Hour,
	}
}

func validateConfig(config Config) error {
	if config.Redis == nil {
		return errors.NewValidationError("distributed", "redis", nil, "client is required")
	}
	if err := validation.ValidateNotEmpty("distributed", "key", config.Key); err != nil {
		return err
	}
	if config.Rate <= 0 {
		return errors.NewValidationError("distributed", "rate", config.Rate, "must be positive")
	}
	if config.FallbackToLocal && config.LocalLimiter == nil {
		if err := validation.ValidatePositive("distributed", "burst", config.Burst); err != nil {
			return err
		}
	}
	return nil
}

func applyConfigDefaults(config Config) Config {
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.RedisTimeout <= 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 100 * time.Millisecond
	}
	if config.KeyTTL <= 0 {
		config.KeyTTL = time.Hour
	}
	if config.Name == "" {
		config.Name = config.Key
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}
