// Package warmer pre-populates the server cache from the authoritative
// store, per user or in bounded batches.
package warmer

import (
	"context"
	"sync"
	"time"

	"github.com/HelyeFab/moshimoshi-sub008/internal/cache"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

// QueueFreshness is how recent queue metadata must be for the queue warm
// to be skipped as redundant.
const QueueFreshness = 30 * time.Minute

// DataSource reads authoritative user data for warming. The cache is
// never the system of record; this is.
type DataSource interface {
	ReviewQueue(ctx context.Context, userID string) ([]models.ReviewQueueItem, error)
	Stats(ctx context.Context, userID string) (*models.UserStats, error)
	Streak(ctx context.Context, userID string) (*models.Streak, error)
}

// Warmer populates the queue and stats caches.
type Warmer struct {
	queue  *cache.QueueCache
	stats  *cache.StatsCache
	source DataSource
	logger *logging.Logger
}

// NewWarmer creates a Warmer.
func NewWarmer(queue *cache.QueueCache, stats *cache.StatsCache, source DataSource, logger *logging.Logger) *Warmer {
	if logger == nil {
		logger = logging.Get()
	}
	return &Warmer{queue: queue, stats: stats, source: source, logger: logger}
}

// WarmUserCache warms one user's queue, stats, and streak concurrently.
// Each sub-warm is independently best-effort: a failure in one is logged
// and must not abort the others, and already-fresh entries are skipped.
func (w *Warmer) WarmUserCache(ctx context.Context, userID string) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		w.warmQueue(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		w.warmStats(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		w.warmStreak(ctx, userID)
	}()

	wg.Wait()
}

// BatchWarmUsers warms a user list in fixed-size concurrent chunks to
// bound load on the authoritative store. parallelism <= 0 defaults to 5.
func (w *Warmer) BatchWarmUsers(ctx context.Context, userIDs []string, parallelism int) {
	if parallelism <= 0 {
		parallelism = 5
	}

	for start := 0; start < len(userIDs); start += parallelism {
		end := start + parallelism
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var wg sync.WaitGroup
		for _, userID := range userIDs[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				w.WarmUserCache(ctx, id)
			}(userID)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			w.logger.Warn("Batch warm aborted",
				map[string]interface{}{"completed": end, "total": len(userIDs)})
			return
		default:
		}
	}

	w.logger.Info("Batch warm completed",
		map[string]interface{}{"users": len(userIDs)})
}

func (w *Warmer) warmQueue(ctx context.Context, userID string) {
	if meta, ok := w.queue.GetMetadata(ctx, userID); ok {
		age := models.NowMillis() - meta.LastUpdated
		if age < QueueFreshness.Milliseconds() {
			w.logger.Debug("Queue cache fresh, skipping warm",
				map[string]interface{}{"user_id": userID, "age_millis": age})
			return
		}
	}

	items, err := w.source.ReviewQueue(ctx, userID)
	if err != nil {
		w.logger.Error("Queue warm failed to read source", err,
			map[string]interface{}{"user_id": userID})
		return
	}
	w.queue.Set(ctx, userID, items)
}

func (w *Warmer) warmStats(ctx context.Context, userID string) {
	if _, ok := w.stats.Get(ctx, userID); ok {
		return
	}

	stats, err := w.source.Stats(ctx, userID)
	if err != nil {
		w.logger.Error("Stats warm failed to read source", err,
			map[string]interface{}{"user_id": userID})
		return
	}
	w.stats.Set(ctx, userID, stats)
}

func (w *Warmer) warmStreak(ctx context.Context, userID string) {
	if _, ok := w.stats.GetStreak(ctx, userID); ok {
		return
	}

	streak, err := w.source.Streak(ctx, userID)
	if err != nil {
		w.logger.Error("Streak warm failed to read source", err,
			map[string]interface{}{"user_id": userID})
		return
	}
	w.stats.UpdateStreak(ctx, userID, streak)
}
