package models

import "time"

// HealthStatus classifies a single probe observation.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusUnknown means the probe itself failed (timeout, refused
	// connection). Treated as unhealthy for decisions, logged apart.
	StatusUnknown HealthStatus = "unknown"
)

// Degraded reports whether the status warrants opening an episode.
func (s HealthStatus) Degraded() bool {
	return s == StatusUnhealthy || s == StatusUnknown
}

// ProbeResult is one immutable health observation against a target.
type ProbeResult struct {
	Target     string        `json:"target"`
	Status     HealthStatus  `json:"status"`
	ObservedAt time.Time     `json:"observed_at"`
	Detail     string        `json:"detail,omitempty"`
	Latency    time.Duration `json:"latency"`
	Pool       *PoolStats    `json:"pool,omitempty"`
}

// PoolStats mirrors the connection pool gauges a database health endpoint
// reports alongside its verdict.
type PoolStats struct {
	Size       int `json:"pool_size"`
	CheckedIn  int `json:"checked_in"`
	CheckedOut int `json:"checked_out"`
	Overflow   int `json:"overflow"`
	Invalid    int `json:"invalid"`
}

// Occupancy returns checked-out connections as a percentage of pool size.
func (p PoolStats) Occupancy() float64 {
	if p.Size <= 0 {
		return 0
	}
	return float64(p.CheckedOut) / float64(p.Size) * 100
}
