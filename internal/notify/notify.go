package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// ErrSuppressed reports that a notification was dropped by the escalation
// cooldown rather than by a delivery failure.
var ErrSuppressed = errors.New("notification suppressed by cooldown")

// Notifier delivers an episode summary to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, episode *models.RecoveryEpisode) error
}

// New builds the configured transport, wrapped with the escalation cooldown
// when one is set.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Notifier, error) {
	var notifier Notifier
	switch cfg.Transport {
	case "log", "":
		notifier = NewLogNotifier(logger)
	case "telegram":
		notifier = NewTelegramNotifier(cfg.TelegramBaseURL, cfg.TelegramToken, cfg.Destination, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
	}
	if cfg.EscalationCooldown > 0 {
		notifier = NewThrottle(notifier, cfg.EscalationCooldown)
	}
	return notifier, nil
}

// LogNotifier writes episode summaries to the structured log. It is the
// default transport and never fails, which keeps local setups working
// without any messaging credentials.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, episode *models.RecoveryEpisode) error {
	n.logger.Warn("operator notification",
		"target", episode.Target,
		"episode_id", episode.ID,
		"outcome", string(episode.FinalOutcome),
		"message", summary(episode))
	return nil
}

// summary renders the operator-facing text shared by all transports.
func summary(episode *models.RecoveryEpisode) string {
	if episode.FinalOutcome == models.EpisodeRecovered {
		return fmt.Sprintf("watchdog: %s recovered after %d attempt(s), episode %s",
			episode.Target, len(episode.Attempts), episode.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "watchdog: %s ESCALATED after %d failed attempt(s), episode %s",
		episode.Target, len(episode.Attempts), episode.ID)

	switch {
	case episode.SnapshotRef != "":
		fmt.Fprintf(&b, "\nsnapshot: %s", episode.SnapshotRef)
	case episode.SnapshotErr != "":
		fmt.Fprintf(&b, "\nsnapshot unavailable: %s", episode.SnapshotErr)
	default:
		b.WriteString("\nno snapshot taken")
	}

	if detail := lastDetail(episode); detail != "" {
		fmt.Fprintf(&b, "\nlast error: %s", detail)
	}
	return b.String()
}

func lastDetail(episode *models.RecoveryEpisode) string {
	for i := len(episode.Attempts) - 1; i >= 0; i-- {
		if d := episode.Attempts[i].Detail; d != "" {
			return d
		}
	}
	return episode.TriggeringProbe.Detail
}
