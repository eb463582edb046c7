package history

import (
	"context"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// Store abstracts persistence for closed episodes.
type Store interface {
	StoreEpisode(ctx context.Context, episode *models.RecoveryEpisode) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, episode *models.RecoveryEpisode) error

// StoreEpisode implements Store.
func (f StoreFunc) StoreEpisode(ctx context.Context, episode *models.RecoveryEpisode) error {
	return f(ctx, episode)
}
