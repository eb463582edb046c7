package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/faqdesk/sentry-watchdog/internal/api"
	"github.com/faqdesk/sentry-watchdog/internal/audit"
	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/history"
	"github.com/faqdesk/sentry-watchdog/internal/metrics"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/notify"
	"github.com/faqdesk/sentry-watchdog/internal/probe"
	"github.com/faqdesk/sentry-watchdog/internal/recovery"
	"github.com/faqdesk/sentry-watchdog/internal/snapshot"
	"github.com/faqdesk/sentry-watchdog/internal/utils"
	"github.com/faqdesk/sentry-watchdog/internal/watchdog"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sentry-watchdog",
		slog.String("address", cfg.Server.Address),
		slog.Int("targets", len(cfg.Targets)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		logger.Error("failed to open audit log", slog.String("path", cfg.Audit.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer auditLog.Close()

	names := make([]string, 0, len(cfg.Targets))
	targets := make([]watchdog.Target, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		prober, err := probe.New(tc, probe.Options{
			Timeout:               cfg.Watchdog.ProbeTimeout,
			PoolAlertThresholdPct: cfg.Watchdog.PoolAlertThresholdPct,
		})
		if err != nil {
			logger.Error("failed to build prober", slog.String("target", tc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		names = append(names, tc.Name)
		targets = append(targets, watchdog.Target{
			Prober:           prober,
			RestartCommand:   tc.RestartCommand,
			SnapshotResource: tc.SnapshotResource,
		})
	}

	notifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		logger.Error("failed to build notifier", slog.Any("error", err))
		os.Exit(1)
	}

	agent := snapshot.NewAgent(cfg.Snapshot.Dir, cfg.Snapshot.Command, cfg.Snapshot.Timeout, logger)
	sweeper := snapshot.NewSweeper(cfg.Snapshot.Dir, cfg.Snapshot.MaxAge, cfg.Snapshot.SweepInterval, cfg.Snapshot.MinKeep, logger, auditLog)
	recoverer := recovery.NewRecoverer(recovery.ExecRunner{},
		cfg.Watchdog.MaxRecoveryAttempts,
		cfg.Watchdog.RecoveryRetryDelay,
		cfg.Watchdog.ActionTimeout,
		cfg.Watchdog.ProbeTimeout,
		logger, auditLog)

	// Closed episodes land in the audit log through the recorder.
	recorder := history.NewRecorder(logger, history.StoreFunc(func(ctx context.Context, episode *models.RecoveryEpisode) error {
		return auditLog.Append(audit.Entry{
			Event:     audit.EventEpisodeClosed,
			Target:    episode.Target,
			EpisodeID: episode.ID,
			Episode:   episode,
		})
	}))

	board := watchdog.NewBoard(names)
	loop := watchdog.NewLoop(logger, cfg, targets, agent, recoverer, notifier, recorder, board, auditLog)

	server, err := api.NewServer(cfg.Server, board)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var statusServer *api.StatusServer
	if cfg.Server.MetricsAddress != "" {
		statusServer = api.NewStatusServer(cfg.Server.MetricsAddress, board, recorder, logger)
		go func() {
			logger.Info("status server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go sweeper.Run(ctx)
	go server.SyncHealth(ctx, cfg.Watchdog.ProbeInterval)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	<-ctx.Done()
	// Unregister so a second signal kills the process instead of waiting
	// for the drain.
	stop()
	logger.Info("shutdown signal received, draining open episodes")

	select {
	case <-loopDone:
	case <-time.After(loop.DrainBudget()):
		logger.Warn("drain budget exceeded, abandoning open episodes")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if statusServer != nil {
		statusCtx, cancelStatus := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(statusCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("status server shutdown", slog.Any("error", err))
		}
		cancelStatus()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sentry-watchdog stopped")
}
