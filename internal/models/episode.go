package models

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryAction enumerates remediation kinds.
type RecoveryAction string

const (
	ActionRestart RecoveryAction = "restart"
)

// AttemptOutcome classifies one recovery attempt.
type AttemptOutcome string

const (
	AttemptRecovered      AttemptOutcome = "recovered"
	AttemptStillUnhealthy AttemptOutcome = "still_unhealthy"
	AttemptActionFailed   AttemptOutcome = "action_failed"
)

// EpisodeOutcome is the terminal disposition of an episode.
type EpisodeOutcome string

const (
	EpisodeRecovered EpisodeOutcome = "recovered"
	EpisodeEscalated EpisodeOutcome = "escalated"
)

// RecoveryAttempt records one remediation try within an episode.
type RecoveryAttempt struct {
	Number     int            `json:"number"`
	Action     RecoveryAction `json:"action"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	Detail     string         `json:"detail,omitempty"`
}

// RecoveryEpisode tracks one detected failure from the probe that opened it
// through resolution or escalation. SnapshotRef holds the artifact path when
// the pre-recovery snapshot succeeded; SnapshotErr the reason when it did not.
type RecoveryEpisode struct {
	ID              string            `json:"id"`
	Target          string            `json:"target"`
	TriggeringProbe ProbeResult       `json:"triggering_probe"`
	SnapshotRef     string            `json:"snapshot_ref,omitempty"`
	SnapshotErr     string            `json:"snapshot_err,omitempty"`
	Attempts        []RecoveryAttempt `json:"attempts"`
	FinalOutcome    EpisodeOutcome    `json:"final_outcome,omitempty"`
	OpenedAt        time.Time         `json:"opened_at"`
	ClosedAt        time.Time         `json:"closed_at"`
}

// NewEpisode opens an episode for the probe that crossed the healthy to
// unhealthy edge.
func NewEpisode(trigger ProbeResult) *RecoveryEpisode {
	return &RecoveryEpisode{
		ID:              uuid.NewString(),
		Target:          trigger.Target,
		TriggeringProbe: trigger,
		OpenedAt:        trigger.ObservedAt,
	}
}

// Closed reports whether the episode reached a terminal outcome.
func (e *RecoveryEpisode) Closed() bool { return e.FinalOutcome != "" }

// Close stamps the terminal outcome. Closing an already closed episode is a
// no-op so replayed probe results cannot flip a decision.
func (e *RecoveryEpisode) Close(outcome EpisodeOutcome, at time.Time) {
	if e.Closed() {
		return
	}
	e.FinalOutcome = outcome
	e.ClosedAt = at
}
