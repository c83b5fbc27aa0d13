package scheduler

import (
	"context"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	syncpkg "github.com/HelyeFab/moshimoshi-sub008/internal/sync"
)

// Periodic event tags the host may deliver.
const (
	TagSyncOutbox   = "sync-outbox"
	TagPeriodicSync = "periodic-sync"
	TagCacheRefresh = "cache-refresh"
)

// HandleSyncOutbox is the host entry point for a one-shot background sync
// event: drain the outbox once. It works on freshly constructed
// dependencies, so hosts that wake the process per event (no long-lived
// scheduler) can call it directly.
func HandleSyncOutbox(ctx context.Context, engine *syncpkg.Engine, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Get()
	}

	pending, err := engine.PendingChanges(ctx)
	if err != nil {
		return err
	}
	if pending == 0 {
		return nil
	}

	logger.Info("Background sync event: draining outbox",
		map[string]interface{}{"pending": pending})
	return engine.Drain(ctx)
}

// HandlePeriodicSync is the host entry point for a periodic background
// event. The tag selects the work: outbox drain, full reconciliation, or
// both for unknown tags (cheapest safe default).
func HandlePeriodicSync(ctx context.Context, engine *syncpkg.Engine, tag string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Get()
	}

	logger.Info("Periodic sync event",
		map[string]interface{}{"tag": tag})

	switch tag {
	case TagSyncOutbox:
		return engine.Drain(ctx)
	case TagPeriodicSync, TagCacheRefresh:
		_, err := engine.SyncAll(ctx, false)
		if apperrors.Is(err, apperrors.ErrSyncInFlight) {
			return nil
		}
		return err
	default:
		if err := engine.Drain(ctx); err != nil {
			return err
		}
		_, err := engine.SyncAll(ctx, false)
		if apperrors.Is(err, apperrors.ErrSyncInFlight) {
			return nil
		}
		return err
	}
}
