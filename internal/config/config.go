// Package config loads poolserve settings from a YAML file, POOLSERVE_*
// environment variables and built-in defaults, in increasing priority.
// Command line flags are applied on top by cmd/poolserve.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/common/validation"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POOLSERVE"

// Duration is a time.Duration written as a string such as "5s" in YAML.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or a plain integer of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config is the complete poolserve configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Log       LogConfig       `yaml:"log"`
	AccessLog AccessLogConfig `yaml:"access_log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig configures the listener and request handling.
type ServerConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	Root          string   `yaml:"root"`
	MaxRequests   int      `yaml:"max_requests"`
	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	AcceptRate    float64  `yaml:"accept_rate"`
	AcceptBurst   int      `yaml:"accept_burst"`
	StatsInterval Duration `yaml:"stats_interval"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AccessLogConfig configures the buffered access log. An empty Path
// disables it; "-" writes to stdout.
type AccessLogConfig struct {
	Path          string   `yaml:"path"`
	BufferSize    int      `yaml:"buffer_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// RedisConfig configures cluster-wide admission. An empty Addr disables it.
type RedisConfig struct {
	Addr            string  `yaml:"addr"`
	Password        string  `yaml:"password"`
	DB              int     `yaml:"db"`
	Key             string  `yaml:"key"`
	Rate            float64 `yaml:"rate"`
	Burst           int     `yaml:"burst"`
	FallbackToLocal bool    `yaml:"fallback_to_local"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Root:         ".",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			AcceptBurst:  1,
		},
		Pool: PoolConfig{
			Workers:   8,
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		AccessLog: AccessLogConfig{
			BufferSize:    64 * 1024,
			FlushInterval: Duration(time.Second),
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Redis: RedisConfig{
			Key:             "poolserve:admission",
			Rate:            100,
			FallbackToLocal: true,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from POOLSERVE_<SECTION>_<FIELD> variables
// found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range c.overrides() {
		key := EnvPrefix + "_" + o.key
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		if err := o.set(value); err != nil {
			return fmt.Errorf("environment %s: %w", key, err)
		}
	}
	return nil
}

type override struct {
	key string
	set func(string) error
}

func (c *Config) overrides() []override {
	return []override{
		{"SERVER_HOST", setString(&c.Server.Host)},
		{"SERVER_PORT", setInt(&c.Server.Port)},
		{"SERVER_ROOT", setString(&c.Server.Root)},
		{"SERVER_MAX_REQUESTS", setInt(&c.Server.MaxRequests)},
		{"SERVER_READ_TIMEOUT", setDuration(&c.Server.ReadTimeout)},
		{"SERVER_WRITE_TIMEOUT", setDuration(&c.Server.WriteTimeout)},
		{"SERVER_ACCEPT_RATE", setFloat(&c.Server.AcceptRate)},
		{"SERVER_ACCEPT_BURST", setInt(&c.Server.AcceptBurst)},
		{"SERVER_STATS_INTERVAL", setDuration(&c.Server.StatsInterval)},
		{"POOL_WORKERS", setInt(&c.Pool.Workers)},
		{"POOL_QUEUE_SIZE", setInt(&c.Pool.QueueSize)},
		{"LOG_LEVEL", setString(&c.Log.Level)},
		{"LOG_FORMAT", setString(&c.Log.Format)},
		{"ACCESS_LOG_PATH", setString(&c.AccessLog.Path)},
		{"ACCESS_LOG_BUFFER_SIZE", setInt(&c.AccessLog.BufferSize)},
		{"ACCESS_LOG_FLUSH_INTERVAL", setDuration(&c.AccessLog.FlushInterval)},
		{"METRICS_ADDR", setString(&c.Metrics.Addr)},
		{"METRICS_PATH", setString(&c.Metrics.Path)},
		{"REDIS_ADDR", setString(&c.Redis.Addr)},
		{"REDIS_PASSWORD", setString(&c.Redis.Password)},
		{"REDIS_DB", setInt(&c.Redis.DB)},
		{"REDIS_KEY", setString(&c.Redis.Key)},
		{"REDIS_RATE", setFloat(&c.Redis.Rate)},
		{"REDIS_BURST", setInt(&c.Redis.Burst)},
		{"REDIS_FALLBACK_TO_LOCAL", setBool(&c.Redis.FallbackToLocal)},
	}
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", v)
		}
		*dst = f
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *Duration) func(string) error {
	return func(v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*dst = Duration(d)
		return nil
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	checks := []func() error{
		func() error { return validation.ValidateRange("config", "server.port", c.Server.Port, 0, 65535) },
		func() error { return validation.ValidateNotEmpty("config", "server.root", c.Server.Root) },
		func() error {
			return validation.ValidateNonNegative("config", "server.max_requests", float64(c.Server.MaxRequests))
		},
		func() error {
			return validation.ValidateNonNegative("config", "server.accept_rate", c.Server.AcceptRate)
		},
		func() error {
			if c.Server.AcceptRate == 0 {
				return nil
			}
			return validation.ValidatePositive("config", "server.accept_burst", c.Server.AcceptBurst)
		},
		func() error {
			return validation.ValidateNonNegative("config", "server.read_timeout", float64(c.Server.ReadTimeout))
		},
		func() error {
			return validation.ValidateNonNegative("config", "server.write_timeout", float64(c.Server.WriteTimeout))
		},
		func() error {
			return validation.ValidateNonNegative("config", "server.stats_interval", float64(c.Server.StatsInterval))
		},
		func() error {
			return validation.ValidateRange("config", "pool.workers", c.Pool.Workers, 1, workerpool.MaxWorkers)
		},
		func() error {
			return validation.ValidateRange("config", "pool.queue_size", c.Pool.QueueSize, 1, workerpool.MaxQueueSize)
		},
		func() error {
			_, err := c.Log.SlogLevel()
			return err
		},
		func() error {
			switch c.Log.Format {
			case "text", "json":
				return nil
			}
			return errors.NewValidationError("config", "log.format", c.Log.Format, "unknown format").
				WithHint("use text or json")
		},
		func() error {
			if c.AccessLog.Path == "" {
				return nil
			}
			return validation.ValidatePositive("config", "access_log.buffer_size", c.AccessLog.BufferSize)
		},
		func() error {
			if c.Redis.Addr == "" {
				return nil
			}
			if err := validation.ValidateNotEmpty("config", "redis.key", c.Redis.Key); err != nil {
				return err
			}
			if c.Redis.Rate <= 0 {
				return errors.NewValidationError("config", "redis.rate", c.Redis.Rate, "must be positive")
			}
			return nil
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, errors.NewValidationError("config", "log.level", l.Level, "unknown level").
			WithHint("use debug, info, warn or error")
	}
	return level, nil
}

// Handler builds the slog handler described by l, writing to w.
func (l LogConfig) Handler(w io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}
