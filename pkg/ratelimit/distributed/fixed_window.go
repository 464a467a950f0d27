package distributed

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/bucket"
)

const limiterType = "redis_fixed_window"

// fixedWindow counts admissions per one-second window in Redis.
type fixedWindow struct {
	config Config
	local  bucket.Limiter

	configKey    string
	statsKey     string
	instancesKey string

	script *redis.Script
}

// NewFixedWindow creates a limiter admitting at most ceil(config.Rate) events
// per second across all instances sharing config.Key. Burst plays no part in
// the shared window; it only sizes the local fallback bucket. If Redis cannot
// be reached and FallbackToLocal is set, the limiter starts anyway and admits
// locally.
func NewFixedWindow(config Config) (Limiter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	fw := &fixedWindow{
		config:       config,
		local:        config.LocalLimiter,
		configKey:    config.Key + ":config",
		statsKey:     config.Key + ":stats",
		instancesKey: config.Key + ":instances",
		script:       redis.NewScript(luaFixedWindow),
	}

	if config.FallbackToLocal && fw.local == nil {
		local, err := bucket.NewSafe(bucket.Limit(config.Rate), config.Burst)
		if err != nil {
			return nil, err
		}
		fw.local = local
	}

	if err := fw.register(context.Background()); err != nil {
		if !config.FallbackToLocal {
			return nil, errors.NewOperationError("distributed", "NewFixedWindow", err)
		}
		config.Logger.Warn("redis unavailable, admitting locally",
			"key", config.Key, "error", err)
	}

	return fw, nil
}

// windowKey returns the counter key for the window containing t.
func windowKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s:window:%d", prefix, t.Unix())
}

// windowLimit is the per-window event count for rate, rounded up so a
// fractional rate still admits at least one event.
func windowLimit(rate float64) int64 {
	return max(int64(math.Ceil(rate)), 1)
}

// register stores the configuration and adds this instance to the set.
func (fw *fixedWindow) register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fw.config.RedisTimeout)
	defer cancel()

	pipe := fw.config.Redis.Pipeline()
	pipe.HSet(ctx, fw.configKey, map[string]interface{}{
		"rate":   fw.config.Rate,
		"window": time.Second.String(),
	})
	pipe.Expire(ctx, fw.configKey, fw.config.KeyTTL)
	pipe.HSetNX(ctx, fw.statsKey, "total_requests", 0)
	pipe.Expire(ctx, fw.statsKey, fw.config.KeyTTL)
	pipe.SAdd(ctx, fw.instancesKey, fw.config.InstanceID)
	pipe.Expire(ctx, fw.instancesKey, fw.config.KeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register instance %s: %w", fw.config.InstanceID, err)
	}
	return nil
}

// Allow reports whether an event may happen now.
func (fw *fixedWindow) Allow(ctx context.Context) bool {
	return fw.AllowN(ctx, 1)
}

// AllowN reports whether n events may happen now. A Redis failure admits
// through the local limiter when fallback is enabled and denies otherwise.
func (fw *fixedWindow) AllowN(ctx context.Context, n int) bool {
	if n <= 0 {
		return true
	}

	allowed, err := fw.check(ctx, n)
	if err != nil {
		fw.config.Logger.Debug("redis admission failed", "key", fw.config.Key, "error", err)
		allowed = fw.local != nil && fw.local.AllowN(n)
	}

	fw.record(allowed, n)
	return allowed
}

func (fw *fixedWindow) check(ctx context.Context, n int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, fw.config.RedisTimeout)
	defer cancel()

	result, err := fw.script.Run(ctx, fw.config.Redis,
		[]string{windowKey(fw.config.Key, time.Now()), fw.statsKey},
		n,
		windowLimit(fw.config.Rate),
		1,
	).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (fw *fixedWindow) record(allowed bool, n int) {
	m := fw.config.Metrics
	if m == nil {
		return
	}
	if allowed {
		m.RateLimitAllowed.WithLabelValues(limiterType, fw.config.Name).Add(float64(n))
	} else {
		m.RateLimitDenied.WithLabelValues(limiterType, fw.config.Name).Add(float64(n))
	}
}

// Wait blocks until an event is admitted, retrying every RetryInterval.
func (fw *fixedWindow) Wait(ctx context.Context) error {
	ticker := time.NewTicker(fw.config.RetryInterval)
	defer ticker.Stop()

	for {
		if fw.Allow(ctx) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns current limiter statistics.
func (fw *fixedWindow) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, fw.config.RedisTimeout)
	defer cancel()

	now := time.Now()
	pipe := fw.config.Redis.Pipeline()
	instancesCmd := pipe.SMembers(ctx, fw.instancesKey)
	statsCmd := pipe.HGetAll(ctx, fw.statsKey)
	windowCmd := pipe.Get(ctx, windowKey(fw.config.Key, now))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.NewOperationError("distributed", "Stats", err)
	}

	counters := statsCmd.Val()
	total, _ := strconv.ParseInt(counters["total_requests"], 10, 64)
	allowed, _ := strconv.ParseInt(counters["allowed_requests"], 10, 64)
	denied, _ := strconv.ParseInt(counters["denied_requests"], 10, 64)
	used, _ := strconv.ParseFloat(windowCmd.Val(), 64)

	remaining := float64(windowLimit(fw.config.Rate)) - used
	if remaining < 0 {
		remaining = 0
	}

	return &Stats{
		Rate:            fw.config.Rate,
		Remaining:       remaining,
		WindowStart:     now.Truncate(time.Second),
		TotalRequests:   total,
		AllowedRequests: allowed,
		DeniedRequests:  denied,
		ActiveInstances: instancesCmd.Val(),
	}, nil
}

// Reset deletes the shared counters and registers this instance again.
func (fw *fixedWindow) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fw.config.RedisTimeout)
	defer cancel()

	keys := []string{fw.configKey, fw.statsKey, fw.instancesKey, windowKey(fw.config.Key, time.Now())}
	if err := fw.config.Redis.Del(ctx, keys...).Err(); err != nil {
		return errors.NewOperationError("distributed", "Reset", err)
	}
	return fw.register(ctx)
}

// Close removes this instance from the instance set. It does not close the
// Redis client.
func (fw *fixedWindow) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), fw.config.RedisTimeout)
	defer cancel()
	return fw.config.Redis.SRem(ctx, fw.instancesKey, fw.config.InstanceID).Err()
}

// KEYS[1] window counter, KEYS[2] stats hash
// ARGV[1] requested, ARGV[2] max per window, ARGV[3] window seconds
const luaFixedWindow = `
local window_key = KEYS[1]
local stats_key = KEYS[2]

local requests = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', window_key) or "0")

redis.call('HINCRBY', stats_key, 'total_requests', requests)

if current + requests <= max_requests then
    local count = redis.call('INCRBY', window_key, requests)
    if count == requests then
        redis.call('EXPIRE', window_key, ttl + 1)
    end
    redis.call('HINCRBY', stats_key, 'allowed_requests', requests)
    return 1
end

redis.call('HINCRBY', stats_key, 'denied_requests', requests)
return 0
`
