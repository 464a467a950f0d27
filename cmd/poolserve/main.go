// Command poolserve serves static files over HTTP/1.0 from a fixed pool of
// workers.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/poolserve/internal/config"
	"github.com/vnykmshr/poolserve/pkg/metrics"
	"github.com/vnykmshr/poolserve/pkg/ratelimit/distributed"
	"github.com/vnykmshr/poolserve/pkg/server"
	"github.com/vnykmshr/poolserve/pkg/streaming/writer"
)

var version = "dev"

// errUsage is returned after usage has been printed.
var errUsage = stderrors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil, stderrors.Is(err, flag.ErrHelp):
	case stderrors.Is(err, errUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "poolserve: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, showVersion, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "poolserve version %s\n", version)
		return nil
	}

	handler, err := cfg.Log.Handler(stderr)
	if err != nil {
		return err
	}
	logger := slog.New(handler)

	srvConfig := server.Config{
		Addr:          cfg.Addr(),
		Root:          cfg.Server.Root,
		Workers:       cfg.Pool.Workers,
		QueueSize:     cfg.Pool.QueueSize,
		MaxRequests:   cfg.Server.MaxRequests,
		AcceptRate:    cfg.Server.AcceptRate,
		AcceptBurst:   cfg.Server.AcceptBurst,
		ReadTimeout:   cfg.Server.ReadTimeout.Std(),
		WriteTimeout:  cfg.Server.WriteTimeout.Std(),
		StatsInterval: cfg.Server.StatsInterval.Std(),
		Logger:        logger,
	}

	var promRegistry *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		promRegistry = prometheus.NewRegistry()
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srvConfig.Metrics = metrics.NewRegistry(promRegistry)
	}

	if cfg.AccessLog.Path != "" {
		accessLog, closeLog, err := openAccessLog(cfg.AccessLog, srvConfig.Metrics, logger)
		if err != nil {
			return err
		}
		defer closeLog()
		srvConfig.AccessLog = accessLog
	}

	if cfg.Redis.Addr != "" {
		admission, err := newAdmission(cfg.Redis, srvConfig.Metrics, logger)
		if err != nil {
			return err
		}
		defer admission.Close()
		srvConfig.Admission = admission
	}

	srv, err := server.New(srvConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if promRegistry != nil {
		if err := serveMetrics(ctx, g, cfg.Metrics, promRegistry, logger); err != nil {
			srv.Close()
			return err
		}
	}

	g.Go(func() error {
		// The metrics endpoint stops with the file server.
		defer cancel()
		return srv.Serve(ctx)
	})

	err = g.Wait()
	srv.LogStats()
	return err
}

// loadConfig layers defaults, the config file, environment variables, flags
// and the positional <port> <pool-size> <queue-size> <max-requests> form.
func loadConfig(args []string, stderr io.Writer) (*config.Config, bool, error) {
	fs := flag.NewFlagSet("poolserve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configFile  = fs.String("config", "", "path to a YAML config file")
		showVersion = fs.Bool("version", false, "print the version and exit")

		host          = fs.String("host", "", "listen host")
		port          = fs.Int("port", 0, "listen port")
		root          = fs.String("root", "", "directory to serve")
		workers       = fs.Int("workers", 0, "number of pool workers")
		queueSize     = fs.Int("queue", 0, "pool queue size")
		maxRequests   = fs.Int("max-requests", 0, "stop after this many connections, 0 for no limit")
		acceptRate    = fs.Float64("accept-rate", 0, "accepted connections per second, 0 for no limit")
		acceptBurst   = fs.Int("accept-burst", 0, "accept rate burst")
		statsInterval = fs.Duration("stats-interval", 0, "log statistics at this interval")
		accessLog     = fs.String("access-log", "", "access log file, - for stdout")
		metricsAddr   = fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
		redisAddr     = fs.String("redis-addr", "", "Redis address for cluster-wide admission")
		logLevel      = fs.String("log-level", "", "debug, info, warn or error")
		logFormat     = fs.String("log-format", "", "text or json")
	)

	fs.Usage = func() {
		fmt.Fprintf(stderr, `poolserve - static file server on a bounded worker pool

Usage:
  poolserve [options]
  poolserve [options] <port> <pool-size> <queue-size> <max-requests>

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(stderr, `
Every option can also be set in the config file or with a POOLSERVE_*
environment variable, e.g. POOLSERVE_POOL_WORKERS=16.
`)
	}

	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil, false, err
		}
		return nil, false, errUsage
	}
	if *showVersion {
		return nil, true, nil
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, false, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "root":
			cfg.Server.Root = *root
		case "workers":
			cfg.Pool.Workers = *workers
		case "queue":
			cfg.Pool.QueueSize = *queueSize
		case "max-requests":
			cfg.Server.MaxRequests = *maxRequests
		case "accept-rate":
			cfg.Server.AcceptRate = *acceptRate
		case "accept-burst":
			cfg.Server.AcceptBurst = *acceptBurst
		case "stats-interval":
			cfg.Server.StatsInterval = config.Duration(*statsInterval)
		case "access-log":
			cfg.AccessLog.Path = *accessLog
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "redis-addr":
			cfg.Redis.Addr = *redisAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	switch fs.NArg() {
	case 0:
	case 4:
		if err := applyPositional(cfg, fs.Args()); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			fs.Usage()
			return nil, false, errUsage
		}
	default:
		fs.Usage()
		return nil, false, errUsage
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func applyPositional(cfg *config.Config, args []string) error {
	values := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("argument %q is not a number", arg)
		}
		values[i] = n
	}
	cfg.Server.Port = values[0]
	cfg.Pool.Workers = values[1]
	cfg.Pool.QueueSize = values[2]
	cfg.Server.MaxRequests = values[3]
	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("serving metrics", "addr", ln.Addr().String(), "path", cfg.Path)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}

func openAccessLog(cfg config.AccessLogConfig, reg *metrics.Registry, logger *slog.Logger) (io.Writer, func(), error) {
	var dst io.Writer = os.Stdout
	var file *os.File
	if cfg.Path != "-" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open access log: %w", err)
		}
		dst, file = f, f
	}

	wconfig := writer.DefaultConfig()
	wconfig.Name = "access_log"
	wconfig.BufferSize = cfg.BufferSize
	wconfig.FlushInterval = cfg.FlushInterval.Std()
	wconfig.Metrics = reg
	wconfig.OnError = func(err error) {
		logger.Error("access log flush failed", "error", err)
	}
	w := writer.NewWithConfig(dst, wconfig)

	return w, func() {
		if err := w.Close(); err != nil {
			logger.Warn("access log close", "error", err)
		}
		if file != nil {
			_ = file.Close()
		}
	}, nil
}

func newAdmission(cfg config.RedisConfig, reg *metrics.Registry, logger *slog.Logger) (distributed.Limiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.Rate))
	}

	dconfig := distributed.DefaultConfig()
	dconfig.Redis = client
	dconfig.Key = cfg.Key
	dconfig.Rate = cfg.Rate
	dconfig.Burst = burst
	dconfig.FallbackToLocal = cfg.FallbackToLocal
	dconfig.Name = "admission"
	dconfig.Metrics = reg
	dconfig.Logger = logger

	limiter, err := distributed.NewFixedWindow(dconfig)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &admission{Limiter: limiter, client: client}, nil
}

// admission closes the Redis client together with the limiter.
type admission struct {
	distributed.Limiter
	client *redis.Client
}

func (a *admission) Close() error {
	err := a.Limiter.Close()
	if cerr := a.client.Close(); err == nil {
		err = cerr
	}
	return err
}
