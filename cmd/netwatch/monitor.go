package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/netwatch/internal/config"
	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/history"
	"github.com/hamed0406/netwatch/internal/httpapi"
	apimw "github.com/hamed0406/netwatch/internal/httpapi/middleware"
	"github.com/hamed0406/netwatch/internal/logging"
	"github.com/hamed0406/netwatch/internal/monitor"
	"github.com/hamed0406/netwatch/internal/notify"
	"github.com/hamed0406/netwatch/internal/probe"
	"github.com/hamed0406/netwatch/internal/registry"
	"github.com/hamed0406/netwatch/internal/repo"
	"github.com/hamed0406/netwatch/internal/repo/memory"
	"github.com/hamed0406/netwatch/internal/repo/postgres"
	"github.com/hamed0406/netwatch/internal/repo/sqlite"
	"github.com/hamed0406/netwatch/internal/scheduler"
	"github.com/hamed0406/netwatch/internal/snapshot"
	"github.com/hamed0406/netwatch/internal/state"
	"github.com/hamed0406/netwatch/internal/telemetry"
)

type monitorFlags struct {
	services string
	interval time.Duration
	db       string
	addr     string
	logLevel string
	duration time.Duration
}

func newMonitorCmd() *cobra.Command {
	var f monitorFlags
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe the configured services until interrupted",
		Long: `Start the scheduler, state machines, history writer, alerter and status API.
SIGINT or SIGTERM stops the tick loop, waits for in-flight probes (up to
SHUTDOWN_GRACE_MS), flushes the history queue and exits 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if f.services != "" {
				cfg.ServicesFile = f.services
			}
			if f.db != "" {
				cfg.SQLitePath = f.db
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = f.addr
			}
			if f.logLevel != "" {
				cfg.LogLevel = f.logLevel
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if f.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.duration)
				defer cancel()
			}
			return runMonitor(ctx, cfg, f.interval, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&f.services, "services", "", "services file (YAML or JSON); defaults to $SERVICES_FILE")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "override every service's check interval")
	cmd.Flags().StringVar(&f.db, "db", "", `SQLite history path, ":memory:" for an in-process store; ignored when DATABASE_URL is set`)
	cmd.Flags().StringVar(&f.addr, "addr", "", `status API bind address, "" disables the API`)
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug | info | warn | error")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until a signal)")
	_ = cmd.Flags().MarkHidden("duration")
	return cmd
}

func runMonitor(ctx context.Context, cfg config.Config, interval time.Duration, stderr io.Writer) error {
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return configError(err)
	}
	defer func() { _ = logger.Sync() }()

	reg, err := loadRegistry(cfg.ServicesFile, interval)
	if err != nil {
		logger.Error("config_invalid", zap.String("services_file", cfg.ServicesFile), zap.Error(err))
		return err
	}
	if cfg.SummarySchedule != "off" {
		if _, err := monitor.ParseSchedule(cfg.SummarySchedule); err != nil {
			return configError(fmt.Errorf("SUMMARY_SCHEDULE: %w", err))
		}
	}

	if cfg.MetricsExport > 0 {
		shutdownMetrics, err := telemetry.InstallStdout(stderr, cfg.MetricsExport)
		if err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}
	metrics, err := telemetry.FromGlobal()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store_close_error", zap.Error(err))
		}
	}()
	if err := store.SaveServices(ctx, reg.Services()); err != nil {
		logger.Warn("save_services_error", zap.Error(err))
	}

	table := state.NewTable(reg.Services())
	bus := snapshot.NewBus(table.Views(), 0)
	writer := history.NewWriter(store, logger.Named("history"), metrics, history.Options{
		QueueSize:   cfg.HistoryQueueSize,
		BatchSize:   cfg.HistoryBatchSize,
		EnqueueWait: cfg.HistoryEnqueueWait,
	})
	writer.Start()
	reader := history.NewReader(store)

	pipeline := monitor.NewPipeline(logger, table, bus, writer, metrics)
	probes := probe.NewSet(probe.Options{
		Retries:    cfg.RetryAttempts,
		Backoff:    cfg.RetryBackoff,
		MaxBackoff: time.Second,
		Slack:      25 * time.Millisecond,
	})
	sched := scheduler.New(logger.Named("scheduler"), reg.Services(), probes, pipeline, scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrentProbes,
		Tick:          cfg.Tick,
		MaxJitter:     cfg.StartJitter,
		Grace:         cfg.ShutdownGrace,
	})

	notifiers := notify.Multi{notify.Log{Logger: logger.Named("alert")}}
	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		notifiers = append(notifiers, slack)
	}
	names := make(map[domain.ServiceID]string, reg.Len())
	for _, d := range reg.Services() {
		names[d.ID] = d.Name
	}
	alerter := scheduler.NewAlerter(logger.Named("alerter"), store, notifiers, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
		Names:           names,
	})
	alertSub := bus.Subscribe(0)

	var summarizer *monitor.Summarizer
	if cfg.SummarySchedule != "off" {
		summarizer = monitor.NewSummarizer(logger.Named("summary"), reader, reg.IDs(), 24*time.Hour)
		if err := summarizer.Start(cfg.SummarySchedule); err != nil {
			return configError(err)
		}
	}

	logger.Info("monitor_start",
		zap.Int("services", reg.Len()),
		zap.String("services_file", cfg.ServicesFile),
		zap.Int("max_concurrent", cfg.MaxConcurrentProbes),
		zap.String("addr", cfg.Addr),
	)

	// The alerter outlives the scheduler: it drains until the bus closes so
	// transitions from probes finishing inside the grace period still alert.
	alertDone := make(chan error, 1)
	go func() { alertDone <- alerter.Run(context.WithoutCancel(ctx), alertSub) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.Addr != "" {
		api := httpapi.NewServer(logger.Named("api"), reg, bus, reader, sched)
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.Router(apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst),
			ReadHeaderTimeout: 10 * time.Second,
			// Request contexts end with the run, which releases /api/events streams.
			BaseContext: func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			logger.Info("api_listen", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				logger.Warn("api_shutdown_incomplete", zap.Error(err))
				_ = srv.Close()
			}
			return nil
		})
	}
	runErr := g.Wait()

	if summarizer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		summarizer.Stop(stopCtx)
		cancel()
	}
	bus.Close()
	if err := <-alertDone; err != nil {
		logger.Warn("alerter_stopped", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := writer.Close(flushCtx); err != nil {
		logger.Error("history_flush_error", zap.Error(err))
	}
	stats := writer.Stats()
	logger.Info("monitor_stopped",
		zap.Uint64("history_written", stats.Written),
		zap.Uint64("history_dropped", stats.Dropped),
		zap.Uint64("history_failed", stats.Failed),
		zap.Uint64("bus_dropped", bus.Dropped()),
	)
	metrics.BusDropped(context.Background(), bus.Dropped())
	return runErr
}

// openStore picks the history backend: Postgres when DATABASE_URL is set,
// an in-process store for ":memory:", otherwise a SQLite file.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := postgres.New(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("store_postgres")
		return s, nil
	case cfg.SQLitePath == ":memory:":
		logger.Info("store_memory")
		return memory.New(), nil
	default:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, logger.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return s, nil
	}
}

// loadRegistry reads and validates the services file. Every failure here is
// a configuration error.
func loadRegistry(path string, interval time.Duration) (*registry.Registry, error) {
	scs, err := config.LoadServices(path)
	if err != nil {
		return nil, configError(err)
	}
	if len(scs) == 0 {
		return nil, configError(fmt.Errorf("%s: no services configured", path))
	}
	reg, err := registry.Load(scs, registry.DefaultDefaults())
	if err != nil {
		return nil, err
	}
	if interval < 0 {
		return nil, configError(fmt.Errorf("--interval must be positive, got %s", interval))
	}
	if interval > 0 {
		reg = reg.WithInterval(interval)
	}
	return reg, nil
}
