package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// maxRecent bounds the in-memory digest ring exposed on the status page.
const maxRecent = 64

// TargetStats aggregates closed episodes for one target.
type TargetStats struct {
	Target         string                `json:"target"`
	Episodes       int                   `json:"episodes"`
	Recovered      int                   `json:"recovered"`
	Escalated      int                   `json:"escalated"`
	TotalAttempts  int                   `json:"total_attempts"`
	LastOutcome    models.EpisodeOutcome `json:"last_outcome,omitempty"`
	LastClosed     time.Time             `json:"last_closed"`
	LastEscalation time.Time             `json:"last_escalation"`
}

// EpisodeDigest is the compact per-episode record kept for the status page.
type EpisodeDigest struct {
	ID          string                `json:"id"`
	Target      string                `json:"target"`
	Outcome     models.EpisodeOutcome `json:"outcome"`
	Attempts    int                   `json:"attempts"`
	SnapshotRef string                `json:"snapshot_ref,omitempty"`
	OpenedAt    time.Time             `json:"opened_at"`
	ClosedAt    time.Time             `json:"closed_at"`
}

// Recorder keeps the incident ledger: per-target aggregates plus a bounded
// ring of recent episodes. Closed episodes are forwarded to an optional
// store; a store failure is logged but never blocks the watchdog.
type Recorder struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	stats  map[string]*targetAggregate
	recent []EpisodeDigest
}

// NewRecorder constructs a Recorder; store may be nil.
func NewRecorder(logger *slog.Logger, store Store) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		stats:  make(map[string]*targetAggregate),
	}
}

// Record folds a closed episode into the aggregates and forwards it to the
// store. Open episodes are ignored; the caller records them once terminal.
func (r *Recorder) Record(ctx context.Context, episode *models.RecoveryEpisode) {
	if episode == nil || !episode.Closed() {
		return
	}

	r.mu.Lock()
	agg := ensureAggregate(r.stats, episode.Target)
	agg.episodes++
	agg.attempts += len(episode.Attempts)
	agg.lastOutcome = episode.FinalOutcome
	if episode.ClosedAt.After(agg.lastClosed) {
		agg.lastClosed = episode.ClosedAt
	}
	switch episode.FinalOutcome {
	case models.EpisodeRecovered:
		agg.recovered++
	case models.EpisodeEscalated:
		agg.escalated++
		if episode.ClosedAt.After(agg.lastEscalation) {
			agg.lastEscalation = episode.ClosedAt
		}
	}

	r.recent = append(r.recent, digest(episode))
	if len(r.recent) > maxRecent {
		r.recent = r.recent[len(r.recent)-maxRecent:]
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.StoreEpisode(ctx, episode); err != nil {
			r.logger.Warn("episode store failed",
				slog.String("episode_id", episode.ID), slog.Any("error", err))
		}
	}
}

// Stats returns per-target aggregates, most escalations first.
func (r *Recorder) Stats() []TargetStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TargetStats, 0, len(r.stats))
	for target, agg := range r.stats {
		out = append(out, TargetStats{
			Target:         target,
			Episodes:       agg.episodes,
			Recovered:      agg.recovered,
			Escalated:      agg.escalated,
			TotalAttempts:  agg.attempts,
			LastOutcome:    agg.lastOutcome,
			LastClosed:     agg.lastClosed,
			LastEscalation: agg.lastEscalation,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Escalated != out[j].Escalated {
			return out[i].Escalated > out[j].Escalated
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Recent returns up to limit of the most recently closed episodes, newest
// first. limit <= 0 means all retained digests.
func (r *Recorder) Recent(limit int) []EpisodeDigest {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]EpisodeDigest, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.recent[i])
	}
	return out
}

type targetAggregate struct {
	episodes       int
	recovered      int
	escalated      int
	attempts       int
	lastOutcome    models.EpisodeOutcome
	lastClosed     time.Time
	lastEscalation time.Time
}

func ensureAggregate(m map[string]*targetAggregate, target string) *targetAggregate {
	if target == "" {
		target = "unknown"
	}
	agg, ok := m[target]
	if !ok {
		agg = &targetAggregate{}
		m[target] = agg
	}
	return agg
}

func digest(episode *models.RecoveryEpisode) EpisodeDigest {
	return EpisodeDigest{
		ID:          episode.ID,
		Target:      episode.Target,
		Outcome:     episode.FinalOutcome,
		Attempts:    len(episode.Attempts),
		SnapshotRef: episode.SnapshotRef,
		OpenedAt:    episode.OpenedAt,
		ClosedAt:    episode.ClosedAt,
	}
}
