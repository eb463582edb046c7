package models

import "time"

// TargetState is the per-target position in the watchdog loop.
type TargetState string

const (
	StateIdle         TargetState = "idle"
	StateSnapshotting TargetState = "snapshotting"
	StateRecovering   TargetState = "recovering"
	StateEscalated    TargetState = "escalated"
)

// TargetStatus is a point-in-time view of one monitored target, served by
// the status endpoints.
type TargetStatus struct {
	Target    string       `json:"target"`
	State     TargetState  `json:"state"`
	LastProbe *ProbeResult `json:"last_probe,omitempty"`
	EpisodeID string       `json:"episode_id,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}
