// Package cleanup removes all traces of an account: local data, pending
// outbox entries, server cache keys, and anything registered by the host.
package cleanup

import (
	"context"

	"github.com/HelyeFab/moshimoshi-sub008/internal/cache"
	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
)

// PurgeHook is a host-registered step run during account cleanup (revoking
// push subscriptions, deleting server-side exports, and the like).
type PurgeHook func(ctx context.Context, userID string) error

// Cleaner wipes an account across all storage layers.
type Cleaner struct {
	store  *store.Store
	queue  *cache.QueueCache
	stats  *cache.StatsCache
	hooks  []PurgeHook
	logger *logging.Logger
}

// NewCleaner creates a Cleaner. Cache caches may be nil when the
// deployment runs without Redis.
func NewCleaner(st *store.Store, queue *cache.QueueCache, stats *cache.StatsCache, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.Get()
	}
	return &Cleaner{store: st, queue: queue, stats: stats, logger: logger}
}

// RegisterHook adds a host purge step. Hooks run after the local wipe,
// in registration order.
func (c *Cleaner) RegisterHook(hook PurgeHook) {
	c.hooks = append(c.hooks, hook)
}

// CleanupAccount removes all local data (including the outbox), then
// invalidates the user's cache groups and runs purge hooks. Cache and hook
// failures are logged but never abort the cleanup: the local wipe is the
// step that must succeed.
func (c *Cleaner) CleanupAccount(ctx context.Context, userID string) error {
	c.logger.Info("Starting account cleanup",
		map[string]interface{}{"user_id": userID})

	if err := c.store.ClearAllData(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "account cleanup failed to clear local data", err)
	}

	if c.queue != nil {
		c.queue.Invalidate(ctx, userID)
	}
	if c.stats != nil {
		c.stats.Invalidate(ctx, userID)
	}

	for i, hook := range c.hooks {
		if err := hook(ctx, userID); err != nil {
			c.logger.Error("Account purge hook failed", err,
				map[string]interface{}{"user_id": userID, "hook": i})
		}
	}

	c.logger.Info("Account cleanup completed",
		map[string]interface{}{"user_id": userID, "hooks": len(c.hooks)})
	return nil
}
