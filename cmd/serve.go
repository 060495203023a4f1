package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/config"
	"github.com/nextlevelbuilder/agentscope/internal/gateway"
	"github.com/nextlevelbuilder/agentscope/internal/hookstats"
	httpapi "github.com/nextlevelbuilder/agentscope/internal/http"
	"github.com/nextlevelbuilder/agentscope/internal/ingest"
	"github.com/nextlevelbuilder/agentscope/internal/metrics"
	"github.com/nextlevelbuilder/agentscope/internal/relationships"
	"github.com/nextlevelbuilder/agentscope/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentscope/internal/syncqueue"
	"github.com/nextlevelbuilder/agentscope/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the AgentScope server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	} else if cfg.Logging.Level == "warn" {
		level = slog.LevelWarn
	} else if cfg.Logging.Level == "error" {
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.StoragePath())
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("storage ready", "dir", db.Dir())

	redisClient, err := cache.NewRedis(cache.RedisConfig{
		URL:            cfg.Cache.URL,
		CommandTimeout: time.Duration(cfg.Cache.CommandTimeoutMS) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.Cache.ConnectTimeoutMS) * time.Millisecond,
		RetryAttempts:  cfg.Cache.ConnectAttempts,
		Breaker: cache.BreakerConfig{
			FailureThreshold: cfg.Cache.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Cache.Breaker.RecoverySeconds) * time.Second,
			MonitoringWindow: time.Duration(cfg.Cache.Breaker.WindowSeconds) * time.Second,
		},
	})
	if err != nil {
		slog.Error("cache client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	monitor := cache.NewMonitor(redisClient, time.Duration(cfg.Cache.MonitorIntervalSeconds)*time.Second)
	streamBus := bus.New()
	coverage := hookstats.New(db)

	metricsService := metrics.New(db, db, db, redisClient, monitor, streamBus)
	relService := relationships.New(db, db, streamBus)
	ingestor := ingest.New(db, db, db, metricsService, relService, coverage, streamBus)

	tracer, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else if tracer != nil {
		defer tracer.Shutdown(context.Background())
		ingestor.SetTracer(tracer)
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	worker := syncqueue.NewWorker(db, redisClient, monitor, syncqueue.Config{
		Interval:    cfg.SyncInterval(),
		BatchSize:   cfg.Sync.BatchSize,
		MaxRetries:  cfg.Sync.MaxRetries,
		SettleDelay: cfg.SettleDelay(),
	})

	// Rebuild the hot cache whenever connectivity returns.
	monitor.Subscribe(func(status cache.ConnectionStatus) {
		if status.IsConnected {
			go func() {
				if err := metricsService.SyncCacheFromDatabase(context.Background()); err != nil {
					slog.Warn("cache warmup", "error", err)
				}
			}()
		}
	})

	server := gateway.NewServer(cfg, streamBus, db, db,
		httpapi.NewEventsHandler(ingestor, db, 0),
		httpapi.NewMetricsHandler(metricsService),
		httpapi.NewHooksHandler(coverage, db),
		httpapi.NewSessionsHandler(relService, db),
		httpapi.NewFallbackHandler(monitor, redisClient.Breaker().State, metricsService, worker, db,
			func() error { return db.Ping(context.Background()) }),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { monitor.Run(ctx); return nil })
	g.Go(func() error { worker.Run(ctx); return nil })
	g.Go(func() error { return runRetention(ctx, db, cfg) })
	g.Go(func() error {
		return config.Watch(ctx, cfgPath, func(fresh *config.Config) {
			setupLogging(fresh)
		})
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// runRetention sweeps aged rows on the configured cron schedule.
func runRetention(ctx context.Context, db *sqlite.Store, cfg *config.Config) error {
	expr := cfg.Storage.RetentionCron
	if expr == "" || cfg.Storage.RetentionDays <= 0 {
		return nil
	}
	if !gronx.New().IsValid(expr) {
		slog.Warn("invalid retention cron, retention disabled", "cron", expr)
		return nil
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			due, err := gronx.New().IsDue(expr, time.Now().UTC())
			if err != nil || !due {
				continue
			}
			cutoff := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays).UnixMilli()
			if err := db.Sweep(ctx, cutoff); err != nil {
				slog.Error("retention sweep", "error", err)
			} else {
				slog.Info("retention sweep complete", "cutoff", cutoff)
			}
		}
	}
}
