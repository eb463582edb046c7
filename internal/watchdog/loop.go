package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faqdesk/sentry-watchdog/internal/audit"
	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/history"
	"github.com/faqdesk/sentry-watchdog/internal/metrics"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/notify"
	"github.com/faqdesk/sentry-watchdog/internal/recovery"
	"github.com/faqdesk/sentry-watchdog/internal/snapshot"
	"github.com/faqdesk/sentry-watchdog/internal/utils"
)

// Prober checks one target's health.
type Prober interface {
	Name() string
	Probe(ctx context.Context) models.ProbeResult
}

// SnapshotAgent captures persistent state before remediation.
type SnapshotAgent interface {
	Snapshot(ctx context.Context, resourceID string) (string, error)
}

// Recoverer drives bounded restart attempts for an open episode.
type Recoverer interface {
	Recover(ctx context.Context, episode *models.RecoveryEpisode, prober recovery.Prober, command []string) *models.RecoveryEpisode
}

// Notifier delivers episode summaries to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, episode *models.RecoveryEpisode) error
}

// Auditor appends decision records to the audit log.
type Auditor interface {
	Append(e audit.Entry) error
}

// Target couples a prober with its remediation settings.
type Target struct {
	Prober           Prober
	RestartCommand   []string
	SnapshotResource string
}

// Loop owns the per-target watch cycles: probe on a fixed interval, open an
// episode on a healthy-to-unhealthy edge, drive snapshot and recovery, and
// notify on escalation. Each target runs independently.
type Loop struct {
	logger    *slog.Logger
	targets   []Target
	agent     SnapshotAgent
	recoverer Recoverer
	notifier  Notifier
	recorder  *history.Recorder
	board     *Board
	auditor   Auditor
	latencies *utils.LatencyTracker

	probeInterval    time.Duration
	probeTimeout     time.Duration
	notifyOnRecovery bool

	// episodeBudget bounds a detached episode after the root context is
	// cancelled, so shutdown drains open episodes instead of abandoning
	// them mid-restart.
	episodeBudget time.Duration
}

// NewLoop constructs the watchdog loop. agent, notifier, recorder, and
// auditor may be nil; a nil board is replaced with a fresh one.
func NewLoop(
	logger *slog.Logger,
	cfg *config.Config,
	targets []Target,
	agent SnapshotAgent,
	recoverer Recoverer,
	notifier Notifier,
	recorder *history.Recorder,
	board *Board,
	auditor Auditor,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if board == nil {
		names := make([]string, 0, len(targets))
		for _, t := range targets {
			names = append(names, t.Prober.Name())
		}
		board = NewBoard(names)
	}

	wd := cfg.Watchdog
	perAttempt := wd.ActionTimeout + wd.RecoveryRetryDelay + wd.ProbeTimeout
	budget := cfg.Snapshot.Timeout + time.Duration(wd.MaxRecoveryAttempts)*perAttempt + time.Minute

	return &Loop{
		logger:           logger,
		targets:          targets,
		agent:            agent,
		recoverer:        recoverer,
		notifier:         notifier,
		recorder:         recorder,
		board:            board,
		auditor:          auditor,
		latencies:        utils.NewLatencyTracker(1024),
		probeInterval:    wd.ProbeInterval,
		probeTimeout:     wd.ProbeTimeout,
		notifyOnRecovery: cfg.Notify.OnRecovery,
		episodeBudget:    budget,
	}
}

// Board exposes the live status view for the admin surfaces.
func (l *Loop) Board() *Board { return l.board }

// DrainBudget is the longest a shutdown can wait for open episodes.
func (l *Loop) DrainBudget() time.Duration { return l.episodeBudget }

// Run starts one watch cycle per target and blocks until the context is
// cancelled and every cycle has drained, including open episodes.
func (l *Loop) Run(ctx context.Context) error {
	if l.recoverer == nil {
		return errors.New("recoverer not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range l.targets {
		t := &l.targets[i]
		g.Go(func() error {
			l.watch(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

// watch is the per-target cycle. The first probe fires immediately, then on
// the interval. An open episode runs inside this goroutine, so probes that
// would land while snapshotting or recovering are suppressed by construction;
// episode creation stays edge-triggered through wasDegraded.
func (l *Loop) watch(ctx context.Context, t *Target) {
	name := t.Prober.Name()
	ticker := time.NewTicker(l.probeInterval)
	defer ticker.Stop()

	wasDegraded := false
	escalated := false

	for {
		if ctx.Err() != nil {
			return
		}

		result := l.probeTarget(ctx, t)
		degraded := result.Status.Degraded()

		switch {
		case degraded && !wasDegraded:
			escalated = l.runEpisode(ctx, t, result)
			wasDegraded = escalated
		case !degraded && escalated:
			// Operator (or time) fixed it; resume normal watching.
			escalated = false
			wasDegraded = false
			l.board.SetState(name, models.StateIdle, "")
			l.logger.Info("target healthy again after escalation", slog.String("target", name))
		case !degraded:
			wasDegraded = false
		default:
			wasDegraded = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) probeTarget(ctx context.Context, t *Target) models.ProbeResult {
	name := t.Prober.Name()

	probeCtx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	result := t.Prober.Probe(probeCtx)
	cancel()

	l.board.SetProbe(name, result)
	metrics.ObserveProbe(result)
	l.latencies.Observe(result.Latency)
	if count := l.latencies.Count(); count >= 20 && count%20 == 0 {
		l.logger.Info("probe latency", slog.Duration("p95", l.latencies.Percentile(95)), slog.Int("samples", count))
	}

	l.audit(audit.Entry{
		Event:   audit.EventProbe,
		Target:  name,
		Failure: probeFailureKind(result.Status),
		Probe:   &result,
	})

	switch result.Status {
	case models.StatusUnknown:
		l.logger.Warn("probe failed", slog.String("target", name), slog.String("detail", result.Detail))
	case models.StatusUnhealthy:
		l.logger.Warn("target unhealthy", slog.String("target", name), slog.String("detail", result.Detail))
	default:
		l.logger.Debug("target healthy", slog.String("target", name), slog.Duration("latency", result.Latency))
	}
	return result
}

// runEpisode drives one episode to its terminal outcome and reports whether
// it escalated. The episode is detached from the root context and bounded by
// the budget instead, so cancellation drains rather than interrupts.
func (l *Loop) runEpisode(ctx context.Context, t *Target, trigger models.ProbeResult) bool {
	name := t.Prober.Name()
	episode := models.NewEpisode(trigger)

	metrics.EpisodeOpened()
	defer metrics.EpisodeClosed()

	epCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.episodeBudget)
	defer cancel()

	l.logger.Warn("recovery episode opened",
		slog.String("target", name),
		slog.String("episode_id", episode.ID),
		slog.String("trigger", trigger.Detail))
	l.audit(audit.Entry{
		Event:     audit.EventEpisodeOpened,
		Target:    name,
		EpisodeID: episode.ID,
		Probe:     &trigger,
	})

	l.board.SetState(name, models.StateSnapshotting, episode.ID)
	l.takeSnapshot(epCtx, t, episode)

	l.board.SetState(name, models.StateRecovering, episode.ID)
	episode = l.recoverer.Recover(epCtx, episode, t.Prober, t.RestartCommand)

	metrics.ObserveEpisode(episode)
	if l.recorder != nil {
		l.recorder.Record(epCtx, episode)
	}
	l.sendNotification(epCtx, episode)

	if episode.FinalOutcome == models.EpisodeRecovered {
		l.board.SetState(name, models.StateIdle, "")
		l.logger.Info("recovery episode closed",
			slog.String("target", name),
			slog.String("episode_id", episode.ID),
			slog.Int("attempts", len(episode.Attempts)))
		return false
	}

	l.board.SetState(name, models.StateEscalated, episode.ID)
	l.logger.Error("recovery exhausted, target escalated",
		slog.String("target", name),
		slog.String("episode_id", episode.ID),
		slog.Int("attempts", len(episode.Attempts)))
	return true
}

// takeSnapshot records the capture outcome on the episode. Failure never
// stops the episode; recovery proceeds regardless.
func (l *Loop) takeSnapshot(ctx context.Context, t *Target, episode *models.RecoveryEpisode) {
	name := t.Prober.Name()

	if l.agent == nil {
		episode.SnapshotErr = "no snapshot agent configured"
		l.audit(audit.Entry{
			Event:     audit.EventSnapshotSkipped,
			Target:    name,
			EpisodeID: episode.ID,
			Detail:    episode.SnapshotErr,
		})
		return
	}

	ref, err := l.agent.Snapshot(ctx, t.SnapshotResource)
	switch {
	case err == nil:
		episode.SnapshotRef = ref
		l.logger.Info("snapshot taken", slog.String("target", name), slog.String("artifact", ref))
		l.audit(audit.Entry{
			Event:     audit.EventSnapshotTaken,
			Target:    name,
			EpisodeID: episode.ID,
			Detail:    ref,
		})
	case errors.Is(err, snapshot.ErrNoResource):
		episode.SnapshotErr = err.Error()
		l.audit(audit.Entry{
			Event:     audit.EventSnapshotSkipped,
			Target:    name,
			EpisodeID: episode.ID,
			Detail:    err.Error(),
		})
	default:
		episode.SnapshotErr = err.Error()
		metrics.ObserveSnapshotFailure(name)
		l.logger.Warn("snapshot failed, continuing with recovery",
			slog.String("target", name), slog.Any("error", err))
		l.audit(audit.Entry{
			Event:     audit.EventSnapshotFailed,
			Target:    name,
			EpisodeID: episode.ID,
			Failure:   utils.FailSnapshot,
			Detail:    err.Error(),
		})
	}
}

// sendNotification delivers the terminal summary. Failures are logged and
// swallowed; the next cycle must never block on an operator channel.
func (l *Loop) sendNotification(ctx context.Context, episode *models.RecoveryEpisode) {
	if l.notifier == nil {
		return
	}
	if episode.FinalOutcome == models.EpisodeRecovered && !l.notifyOnRecovery {
		return
	}

	err := l.notifier.Notify(ctx, episode)
	switch {
	case err == nil:
		metrics.ObserveNotification(metrics.NotifySent)
		l.audit(audit.Entry{
			Event:     audit.EventNotified,
			Target:    episode.Target,
			EpisodeID: episode.ID,
			Detail:    string(episode.FinalOutcome),
		})
	case errors.Is(err, notify.ErrSuppressed):
		metrics.ObserveNotification(metrics.NotifySuppressed)
		l.logger.Info("notification suppressed by cooldown",
			slog.String("target", episode.Target), slog.String("episode_id", episode.ID))
		l.audit(audit.Entry{
			Event:     audit.EventNotifySuppressed,
			Target:    episode.Target,
			EpisodeID: episode.ID,
		})
	default:
		metrics.ObserveNotification(metrics.NotifyFailed)
		l.logger.Warn("notification delivery failed",
			slog.String("target", episode.Target), slog.Any("error", err))
		l.audit(audit.Entry{
			Event:     audit.EventNotifyFailed,
			Target:    episode.Target,
			EpisodeID: episode.ID,
			Failure:   utils.FailNotification,
			Detail:    err.Error(),
		})
	}
}

func (l *Loop) audit(e audit.Entry) {
	if l.auditor == nil {
		return
	}
	if err := l.auditor.Append(e); err != nil {
		l.logger.Warn("audit append failed", slog.Any("error", err))
	}
}

func probeFailureKind(status models.HealthStatus) utils.FailureKind {
	switch status {
	case models.StatusUnknown:
		return utils.FailProbeTransport
	case models.StatusUnhealthy:
		return utils.FailProbeLogical
	default:
		return ""
	}
}
