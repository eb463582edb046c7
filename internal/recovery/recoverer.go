package recovery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/audit"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/utils"
)

// Prober re-checks a target after a restart attempt.
type Prober interface {
	Probe(ctx context.Context) models.ProbeResult
}

// Runner executes the remediation command, returning once it exits. Success
// is exit code zero; the command is otherwise opaque.
type Runner interface {
	Run(ctx context.Context, command []string) error
}

// ExecRunner invokes commands through the OS.
type ExecRunner struct{}

// Run executes the command, folding stderr into the returned error.
func (ExecRunner) Run(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty remediation command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Auditor receives attempt and re-probe records as they happen.
type Auditor interface {
	Append(e audit.Entry) error
}

// Recoverer drives bounded restart attempts for an open episode. Each
// attempt issues the restart, waits a fixed delay so the dependency can
// reach steady state, then re-probes. A restart command that cannot be
// executed consumes an attempt like any other failure.
type Recoverer struct {
	runner        Runner
	maxAttempts   int
	retryDelay    time.Duration
	actionTimeout time.Duration
	probeTimeout  time.Duration
	logger        *slog.Logger
	auditor       Auditor
}

// NewRecoverer builds a recoverer with the configured budget.
func NewRecoverer(runner Runner, maxAttempts int, retryDelay, actionTimeout, probeTimeout time.Duration, logger *slog.Logger, auditor Auditor) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Recoverer{
		runner:        runner,
		maxAttempts:   maxAttempts,
		retryDelay:    retryDelay,
		actionTimeout: actionTimeout,
		probeTimeout:  probeTimeout,
		logger:        logger,
		auditor:       auditor,
	}
}

// Recover extends the episode's attempt sequence until the target is healthy
// again or the budget runs out, then closes it. Cancellation mid-attempt
// records the interruption on the attempt and closes the episode escalated,
// so a drained shutdown still leaves a terminal outcome in the log.
func (r *Recoverer) Recover(ctx context.Context, episode *models.RecoveryEpisode, prober Prober, command []string) *models.RecoveryEpisode {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		att := models.RecoveryAttempt{
			Number:    attempt,
			Action:    models.ActionRestart,
			StartedAt: time.Now().UTC(),
		}

		actionCtx, cancel := context.WithTimeout(ctx, r.actionTimeout)
		err := r.runner.Run(actionCtx, command)
		cancel()
		att.FinishedAt = time.Now().UTC()

		if err != nil {
			att.Outcome = models.AttemptActionFailed
			att.Detail = err.Error()
			r.record(episode, att, utils.FailRemediation)
			r.logger.Warn("restart command failed",
				"target", episode.Target, "attempt", attempt, "error", err)

			// The same inter-attempt delay applies before trying again.
			if attempt < r.maxAttempts {
				if err := utils.SleepContext(ctx, r.retryDelay); err != nil {
					break
				}
			}
			continue
		}

		// Give the restarted dependency time to reach steady state
		// before asking it anything.
		if err := utils.SleepContext(ctx, r.retryDelay); err != nil {
			att.Outcome = models.AttemptStillUnhealthy
			att.Detail = fmt.Sprintf("recovery interrupted before re-probe: %v", err)
			r.record(episode, att, "")
			break
		}

		probeCtx, cancelProbe := context.WithTimeout(ctx, r.probeTimeout)
		result := prober.Probe(probeCtx)
		cancelProbe()
		r.auditProbe(result)

		if result.Status == models.StatusHealthy {
			att.Outcome = models.AttemptRecovered
			r.record(episode, att, "")
			episode.Close(models.EpisodeRecovered, time.Now().UTC())
			r.logger.Info("target recovered",
				"target", episode.Target, "attempt", attempt)
			return episode
		}

		att.Outcome = models.AttemptStillUnhealthy
		att.Detail = result.Detail
		r.record(episode, att, "")
		r.logger.Warn("target still unhealthy after restart",
			"target", episode.Target, "attempt", attempt, "status", result.Status)
	}

	episode.Close(models.EpisodeEscalated, time.Now().UTC())
	return episode
}

func (r *Recoverer) record(episode *models.RecoveryEpisode, att models.RecoveryAttempt, kind utils.FailureKind) {
	episode.Attempts = append(episode.Attempts, att)
	if r.auditor == nil {
		return
	}
	entry := audit.Entry{
		Event:     audit.EventAttempt,
		Target:    episode.Target,
		EpisodeID: episode.ID,
		Failure:   kind,
		Attempt:   &att,
	}
	if err := r.auditor.Append(entry); err != nil {
		r.logger.Warn("audit append failed", "error", err)
	}
}

func (r *Recoverer) auditProbe(result models.ProbeResult) {
	if r.auditor == nil {
		return
	}
	entry := audit.Entry{
		Event:  audit.EventProbe,
		Target: result.Target,
		Probe:  &result,
	}
	if err := r.auditor.Append(entry); err != nil {
		r.logger.Warn("audit append failed", "error", err)
	}
}
