package cache

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

// QueueCache holds per-user review queues as sorted sets scored by dueAt,
// with a metadata hash that must stay consistent with the set under every
// mutation, and a short-lived due-items snapshot. All operations degrade
// to a miss on backend failure; the local store remains the system of
// record.
type QueueCache struct {
	backend Backend
	logger  *logging.Logger
}

// NewQueueCache creates a QueueCache.
func NewQueueCache(backend Backend, logger *logging.Logger) *QueueCache {
	if logger == nil {
		logger = logging.Get()
	}
	return &QueueCache{backend: backend, logger: logger}
}

// Set rebuilds the user's queue from scratch: clears the existing keys,
// inserts every item scored by dueAt, materializes the due-now snapshot,
// recomputes metadata, and registers all written keys in the user's
// tracking group.
func (c *QueueCache) Set(ctx context.Context, userID string, items []models.ReviewQueueItem) {
	now := models.NowMillis()

	members := make([]ZMember, 0, len(items))
	due := make([]models.ReviewQueueItem, 0, len(items))
	meta := models.QueueMetadata{LastUpdated: now, TotalItems: int64(len(items))}
	for i := range items {
		item := &items[i]
		data, err := json.Marshal(item)
		if err != nil {
			c.logger.Error("Failed to encode review item for cache", err,
				map[string]interface{}{"user_id": userID, "item_id": item.ID})
			continue
		}
		members = append(members, ZMember{Score: float64(item.DueAt), Member: string(data)})
		if item.DueAt <= now {
			meta.DueItems++
			due = append(due, *item)
		}
		if item.Reps == 0 {
			meta.NewItems++
		} else {
			meta.LearningItems++
		}
	}

	// Read the previous version outside the pipeline; the rebuild must
	// still move the version forward.
	prevVersion := c.currentVersion(ctx, userID)
	meta.Version = prevVersion + 1

	dueData, err := json.Marshal(due)
	if err != nil {
		c.logger.Error("Failed to encode due snapshot", err,
			map[string]interface{}{"user_id": userID})
		return
	}

	qk, dk, mk, tk := queueKey(userID), dueKey(userID), queueMetaKey(userID), queueTrackingKey(userID)

	err = c.backend.Pipelined(ctx, func(p Writer) error {
		if err := p.Del(ctx, qk, dk, mk); err != nil {
			return err
		}
		if len(members) > 0 {
			if err := p.ZAdd(ctx, qk, members...); err != nil {
				return err
			}
		}
		if err := p.Expire(ctx, qk, QueueTTL); err != nil {
			return err
		}
		if err := p.SetEx(ctx, dk, string(dueData), DueTTL); err != nil {
			return err
		}
		if err := p.HSet(ctx, mk, metadataFields(&meta)); err != nil {
			return err
		}
		if err := p.Expire(ctx, mk, MetadataTTL); err != nil {
			return err
		}
		if err := p.SAdd(ctx, tk, qk, dk, mk); err != nil {
			return err
		}
		return p.Expire(ctx, tk, QueueTTL)
	})
	if err != nil {
		c.logger.Error("Queue cache rebuild failed", err,
			map[string]interface{}{"user_id": userID, "items": len(items)})
	}
}

// Get returns the cached queue in dueAt order, capped at limit when
// limit > 0. The second return reports a hit.
func (c *QueueCache) Get(ctx context.Context, userID string, limit int) ([]models.ReviewQueueItem, bool) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := c.backend.ZRange(ctx, queueKey(userID), 0, stop)
	if err != nil || len(raw) == 0 {
		if err != nil && !IsMiss(err) {
			c.logger.Warn("Queue cache read failed, treating as miss",
				map[string]interface{}{"user_id": userID, "error": err.Error()})
		}
		return nil, false
	}
	return c.decodeMembers(userID, raw), true
}

// GetDueItems returns items due at or before now. The dedicated snapshot
// is preferred; on a snapshot miss the main sorted set is range-scanned
// and the snapshot repopulated (cache-aside repair).
func (c *QueueCache) GetDueItems(ctx context.Context, userID string, now int64) ([]models.ReviewQueueItem, bool) {
	snap, err := c.backend.Get(ctx, dueKey(userID))
	if err == nil {
		var items []models.ReviewQueueItem
		if jsonErr := json.Unmarshal([]byte(snap), &items); jsonErr == nil {
			return items, true
		}
	} else if !IsMiss(err) {
		c.logger.Warn("Due snapshot read failed, treating as miss",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return nil, false
	}

	raw, err := c.backend.ZRangeByScore(ctx, queueKey(userID), math.Inf(-1), float64(now))
	if err != nil {
		return nil, false
	}
	exists, err := c.backend.Exists(ctx, queueKey(userID))
	if err != nil || !exists {
		// An empty range on a missing queue is a miss, not an empty queue.
		return nil, false
	}

	items := c.decodeMembers(userID, raw)
	if data, jsonErr := json.Marshal(items); jsonErr == nil {
		if setErr := c.backend.SetEx(ctx, dueKey(userID), string(data), DueTTL); setErr != nil {
			c.logger.Warn("Failed to repopulate due snapshot",
				map[string]interface{}{"user_id": userID, "error": setErr.Error()})
		}
	}
	return items, true
}

// AddItem inserts one entry and updates metadata incrementally. The due
// snapshot is invalidated since its contents may now be stale.
func (c *QueueCache) AddItem(ctx context.Context, userID string, item *models.ReviewQueueItem) {
	data, err := json.Marshal(item)
	if err != nil {
		c.logger.Error("Failed to encode review item for cache", err,
			map[string]interface{}{"user_id": userID, "item_id": item.ID})
		return
	}

	if err := c.backend.ZAdd(ctx, queueKey(userID), ZMember{Score: float64(item.DueAt), Member: string(data)}); err != nil {
		c.logger.Warn("Queue cache add failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}

	deltaDue := int64(0)
	if item.DueAt <= models.NowMillis() {
		deltaDue = 1
	}
	c.applyMetadataDelta(ctx, userID, 1, deltaDue)
	c.dropDueSnapshot(ctx, userID)
}

// RemoveItem deletes the entry with the given review ID and updates
// metadata incrementally.
func (c *QueueCache) RemoveItem(ctx context.Context, userID, reviewID string) {
	member, item, found := c.findMember(ctx, userID, reviewID)
	if !found {
		return
	}

	if err := c.backend.ZRem(ctx, queueKey(userID), member); err != nil {
		c.logger.Warn("Queue cache remove failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}

	deltaDue := int64(0)
	if item.DueAt <= models.NowMillis() {
		deltaDue = -1
	}
	c.applyMetadataDelta(ctx, userID, -1, deltaDue)
	c.dropDueSnapshot(ctx, userID)
}

// UpdateItemOrder re-scores one entry to a new dueAt, rewriting the
// serialized snapshot so member and score stay in agreement.
func (c *QueueCache) UpdateItemOrder(ctx context.Context, userID, reviewID string, newDueAt int64) {
	member, item, found := c.findMember(ctx, userID, reviewID)
	if !found {
		return
	}

	now := models.NowMillis()
	wasDue := item.DueAt <= now
	item.DueAt = newDueAt
	data, err := json.Marshal(&item)
	if err != nil {
		return
	}

	err = c.backend.Pipelined(ctx, func(p Writer) error {
		if err := p.ZRem(ctx, queueKey(userID), member); err != nil {
			return err
		}
		return p.ZAdd(ctx, queueKey(userID), ZMember{Score: float64(newDueAt), Member: string(data)})
	})
	if err != nil {
		c.logger.Warn("Queue cache reorder failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}

	deltaDue := int64(0)
	isDue := newDueAt <= now
	if wasDue && !isDue {
		deltaDue = -1
	} else if !wasDue && isDue {
		deltaDue = 1
	}
	c.applyMetadataDelta(ctx, userID, 0, deltaDue)
	c.dropDueSnapshot(ctx, userID)
}

// GetDueCount returns the number of due entries, preferring the cheap
// metadata field and falling back to a live range count.
func (c *QueueCache) GetDueCount(ctx context.Context, userID string, now int64) (int64, bool) {
	if meta, ok := c.GetMetadata(ctx, userID); ok {
		return meta.DueItems, true
	}
	exists, err := c.backend.Exists(ctx, queueKey(userID))
	if err != nil || !exists {
		return 0, false
	}
	n, err := c.backend.ZCount(ctx, queueKey(userID), math.Inf(-1), float64(now))
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetMetadata returns the user's queue metadata.
func (c *QueueCache) GetMetadata(ctx context.Context, userID string) (*models.QueueMetadata, bool) {
	fields, err := c.backend.HGetAll(ctx, queueMetaKey(userID))
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return metadataFromFields(fields), true
}

// Invalidate deletes the queue, due snapshot, and metadata keys together.
// Best-effort: failures are logged, never surfaced.
func (c *QueueCache) Invalidate(ctx context.Context, userID string) {
	keys := []string{queueKey(userID), dueKey(userID), queueMetaKey(userID)}
	if tracked, err := c.backend.SMembers(ctx, queueTrackingKey(userID)); err == nil && len(tracked) > 0 {
		keys = tracked
	}
	keys = append(keys, queueTrackingKey(userID))

	if err := c.backend.Del(ctx, keys...); err != nil {
		c.logger.Warn("Queue cache invalidation failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// applyMetadataDelta updates counts incrementally when the metadata hash
// still exists, or recomputes it from the live sorted set after the hash
// expired (the hash TTL is shorter than the queue TTL). Either way the
// version moves forward.
func (c *QueueCache) applyMetadataDelta(ctx context.Context, userID string, deltaTotal, deltaDue int64) {
	mk := queueMetaKey(userID)

	exists, err := c.backend.Exists(ctx, mk)
	if err != nil {
		return
	}
	if !exists {
		c.recomputeMetadata(ctx, userID)
		return
	}

	now := models.NowMillis()
	err = c.backend.Pipelined(ctx, func(p Writer) error {
		if deltaTotal != 0 {
			if _, err := p.HIncrBy(ctx, mk, "totalItems", deltaTotal); err != nil {
				return err
			}
		}
		if deltaDue != 0 {
			if _, err := p.HIncrBy(ctx, mk, "dueItems", deltaDue); err != nil {
				return err
			}
		}
		if _, err := p.HIncrBy(ctx, mk, "version", 1); err != nil {
			return err
		}
		if err := p.HSet(ctx, mk, map[string]string{"lastUpdated": strconv.FormatInt(now, 10)}); err != nil {
			return err
		}
		return p.Expire(ctx, mk, MetadataTTL)
	})
	if err != nil {
		c.logger.Warn("Queue metadata update failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// recomputeMetadata rebuilds the metadata hash from the sorted set.
func (c *QueueCache) recomputeMetadata(ctx context.Context, userID string) {
	now := models.NowMillis()

	total, err := c.backend.ZCard(ctx, queueKey(userID))
	if err != nil {
		return
	}
	due, err := c.backend.ZCount(ctx, queueKey(userID), math.Inf(-1), float64(now))
	if err != nil {
		return
	}

	meta := models.QueueMetadata{
		LastUpdated: now,
		TotalItems:  total,
		DueItems:    due,
		Version:     c.currentVersion(ctx, userID) + 1,
	}

	mk := queueMetaKey(userID)
	err = c.backend.Pipelined(ctx, func(p Writer) error {
		if err := p.HSet(ctx, mk, metadataFields(&meta)); err != nil {
			return err
		}
		return p.Expire(ctx, mk, MetadataTTL)
	})
	if err != nil {
		c.logger.Warn("Queue metadata rebuild failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

func (c *QueueCache) currentVersion(ctx context.Context, userID string) int64 {
	fields, err := c.backend.HGetAll(ctx, queueMetaKey(userID))
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseInt(fields["version"], 10, 64)
	return v
}

func (c *QueueCache) dropDueSnapshot(ctx context.Context, userID string) {
	if err := c.backend.Del(ctx, dueKey(userID)); err != nil {
		c.logger.Warn("Failed to invalidate due snapshot",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// findMember locates the serialized member for a review ID. Members embed
// their full snapshot, so lookup scans the set.
func (c *QueueCache) findMember(ctx context.Context, userID, reviewID string) (string, models.ReviewQueueItem, bool) {
	raw, err := c.backend.ZRange(ctx, queueKey(userID), 0, -1)
	if err != nil {
		return "", models.ReviewQueueItem{}, false
	}
	for _, member := range raw {
		var item models.ReviewQueueItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			continue
		}
		if item.ID.String() == reviewID {
			return member, item, true
		}
	}
	return "", models.ReviewQueueItem{}, false
}

func (c *QueueCache) decodeMembers(userID string, raw []string) []models.ReviewQueueItem {
	items := make([]models.ReviewQueueItem, 0, len(raw))
	for _, member := range raw {
		var item models.ReviewQueueItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			c.logger.Warn("Skipping undecodable queue member",
				map[string]interface{}{"user_id": userID, "error": err.Error()})
			continue
		}
		items = append(items, item)
	}
	return items
}

func metadataFields(m *models.QueueMetadata) map[string]string {
	return map[string]string{
		"lastUpdated":   strconv.FormatInt(m.LastUpdated, 10),
		"totalItems":    strconv.FormatInt(m.TotalItems, 10),
		"dueItems":      strconv.FormatInt(m.DueItems, 10),
		"newItems":      strconv.FormatInt(m.NewItems, 10),
		"learningItems": strconv.FormatInt(m.LearningItems, 10),
		"version":       strconv.FormatInt(m.Version, 10),
	}
}

func metadataFromFields(fields map[string]string) *models.QueueMetadata {
	parse := func(key string) int64 {
		v, _ := strconv.ParseInt(fields[key], 10, 64)
		return v
	}
	return &models.QueueMetadata{
		LastUpdated:   parse("lastUpdated"),
		TotalItems:    parse("totalItems"),
		DueItems:      parse("dueItems"),
		NewItems:      parse("newItems"),
		LearningItems: parse("learningItems"),
		Version:       parse("version"),
	}
}
