package watchdog

import (
	"sort"
	"sync"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// Board is the live per-target view behind the status endpoints. Target
// workers write, admin surfaces read.
type Board struct {
	mu   sync.RWMutex
	data map[string]models.TargetStatus
}

// NewBoard seeds an idle entry for every monitored target so the status
// surfaces list them before the first probe lands.
func NewBoard(targets []string) *Board {
	data := make(map[string]models.TargetStatus, len(targets))
	now := time.Now().UTC()
	for _, t := range targets {
		data[t] = models.TargetStatus{Target: t, State: models.StateIdle, UpdatedAt: now}
	}
	return &Board{data: data}
}

// SetProbe records the latest observation for a target.
func (b *Board) SetProbe(target string, result models.ProbeResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.data[target]
	st.Target = target
	st.LastProbe = &result
	st.UpdatedAt = time.Now().UTC()
	b.data[target] = st
}

// SetState moves a target through the loop states. episodeID is empty
// outside an episode.
func (b *Board) SetState(target string, state models.TargetState, episodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.data[target]
	st.Target = target
	st.State = state
	st.EpisodeID = episodeID
	st.UpdatedAt = time.Now().UTC()
	b.data[target] = st
}

// Get returns the current view of one target.
func (b *Board) Get(target string) (models.TargetStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.data[target]
	return st, ok
}

// Statuses returns every target's view, sorted by name.
func (b *Board) Statuses() []models.TargetStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.TargetStatus, 0, len(b.data))
	for _, st := range b.data {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
