package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// Throttle suppresses repeat escalation alerts for the same target inside
// the cooldown window, so a flapping dependency pages an operator once per
// window instead of once per episode. Recovery notices pass through
// untouched and never consume a token.
type Throttle struct {
	next     Notifier
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(next Notifier, cooldown time.Duration) *Throttle {
	return &Throttle{
		next:     next,
		cooldown: cooldown,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) Notify(ctx context.Context, episode *models.RecoveryEpisode) error {
	if episode.FinalOutcome != models.EpisodeEscalated {
		return t.next.Notify(ctx, episode)
	}
	if !t.limiter(episode.Target).Allow() {
		return ErrSuppressed
	}
	return t.next.Notify(ctx, episode)
}

func (t *Throttle) limiter(target string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[target]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.cooldown), 1)
		t.limiters[target] = lim
	}
	return lim
}
