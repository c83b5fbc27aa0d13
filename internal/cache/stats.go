package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

// Per-content-type counters live in the same hash under a prefixed field.
const contentTypeFieldPrefix = "ct:"

// StatsCache holds a field-addressable statistics record per user. Counter
// fields support atomic increments without a read-modify-write, so
// concurrent session completions never lose updates. Like the queue cache,
// every failure degrades to a miss.
type StatsCache struct {
	backend Backend
	logger  *logging.Logger
}

// NewStatsCache creates a StatsCache.
func NewStatsCache(backend Backend, logger *logging.Logger) *StatsCache {
	if logger == nil {
		logger = logging.Get()
	}
	return &StatsCache{backend: backend, logger: logger}
}

// Set writes the whole record, replacing existing fields and applying the
// TTL.
func (c *StatsCache) Set(ctx context.Context, userID string, stats *models.UserStats) {
	sk, tk := statsKey(userID), statsTrackingKey(userID)

	err := c.backend.Pipelined(ctx, func(p Writer) error {
		if err := p.Del(ctx, sk); err != nil {
			return err
		}
		if err := p.HSet(ctx, sk, statsFields(stats)); err != nil {
			return err
		}
		if err := p.Expire(ctx, sk, StatsTTL); err != nil {
			return err
		}
		if err := p.SAdd(ctx, tk, sk); err != nil {
			return err
		}
		return p.Expire(ctx, tk, StatsTTL)
	})
	if err != nil {
		c.logger.Warn("Stats cache write failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// BatchUpdate overwrites a subset of counter fields and repairs the TTL.
func (c *StatsCache) BatchUpdate(ctx context.Context, userID string, fields map[string]int64) {
	if len(fields) == 0 {
		return
	}
	encoded := make(map[string]string, len(fields))
	for k, v := range fields {
		encoded[k] = strconv.FormatInt(v, 10)
	}

	sk := statsKey(userID)
	if err := c.backend.HSet(ctx, sk, encoded); err != nil {
		c.logger.Warn("Stats cache batch update failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}
	c.repairTTL(ctx, sk, StatsTTL)
}

// Increment atomically adds delta to one counter field and returns the new
// value. A field increment on a key lacking an expiry re-applies the TTL,
// so the record never becomes immortal.
func (c *StatsCache) Increment(ctx context.Context, userID, field string, delta int64) (int64, bool) {
	sk := statsKey(userID)
	val, err := c.backend.HIncrBy(ctx, sk, field, delta)
	if err != nil {
		c.logger.Warn("Stats cache increment failed",
			map[string]interface{}{"user_id": userID, "field": field, "error": err.Error()})
		return 0, false
	}
	c.repairTTL(ctx, sk, StatsTTL)
	return val, true
}

// IncrementContentType counts one review against a content type.
func (c *StatsCache) IncrementContentType(ctx context.Context, userID, contentType string, delta int64) {
	c.Increment(ctx, userID, contentTypeFieldPrefix+contentType, delta)
}

// UpdateStreak writes the streak counters into the stats record and
// maintains the denormalized streak-only snapshot. Best is promoted when
// current exceeds it, whichever record it was read from.
func (c *StatsCache) UpdateStreak(ctx context.Context, userID string, streak *models.Streak) {
	current, best := streak.Current, streak.Best
	if existing, ok := c.Get(ctx, userID); ok && int(existing.StreakBest) > best {
		best = int(existing.StreakBest)
	}
	if current > best {
		best = current
	}

	sk := statsKey(userID)
	err := c.backend.HSet(ctx, sk, map[string]string{
		"streakCurrent":  strconv.FormatInt(int64(current), 10),
		"streakBest":     strconv.FormatInt(int64(best), 10),
		"lastActivityAt": strconv.FormatInt(streak.LastActiveAt, 10),
	})
	if err != nil {
		c.logger.Warn("Stats cache streak update failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return
	}
	c.repairTTL(ctx, sk, StatsTTL)

	snapshot := *streak
	snapshot.Best = best
	if data, jsonErr := json.Marshal(&snapshot); jsonErr == nil {
		if setErr := c.backend.SetEx(ctx, streakKey(userID), string(data), StreakTTL); setErr != nil {
			c.logger.Warn("Streak snapshot write failed",
				map[string]interface{}{"user_id": userID, "error": setErr.Error()})
		}
	}
}

// GetStreak returns the denormalized streak snapshot.
func (c *StatsCache) GetStreak(ctx context.Context, userID string) (*models.Streak, bool) {
	raw, err := c.backend.Get(ctx, streakKey(userID))
	if err != nil {
		return nil, false
	}
	var streak models.Streak
	if err := json.Unmarshal([]byte(raw), &streak); err != nil {
		return nil, false
	}
	return &streak, true
}

// Get returns the full statistics record.
func (c *StatsCache) Get(ctx context.Context, userID string) (*models.UserStats, bool) {
	fields, err := c.backend.HGetAll(ctx, statsKey(userID))
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return statsFromFields(fields), true
}

// Invalidate deletes the user's stats keys, best-effort.
func (c *StatsCache) Invalidate(ctx context.Context, userID string) {
	keys := []string{statsKey(userID), streakKey(userID), progressKey(userID)}
	if tracked, err := c.backend.SMembers(ctx, statsTrackingKey(userID)); err == nil && len(tracked) > 0 {
		keys = tracked
		keys = append(keys, streakKey(userID), progressKey(userID))
	}
	keys = append(keys, statsTrackingKey(userID))

	if err := c.backend.Del(ctx, keys...); err != nil {
		c.logger.Warn("Stats cache invalidation failed",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// repairTTL re-applies the TTL when the key has none. TTL < 0 from the
// backend means no expiry is set.
func (c *StatsCache) repairTTL(ctx context.Context, key string, ttl time.Duration) {
	remaining, err := c.backend.TTL(ctx, key)
	if err != nil {
		return
	}
	if remaining < 0 {
		if err := c.backend.Expire(ctx, key, ttl); err != nil {
			c.logger.Warn("Failed to repair cache TTL",
				map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
}

func statsFields(s *models.UserStats) map[string]string {
	fields := map[string]string{
		"totalReviews":    strconv.FormatInt(s.TotalReviews, 10),
		"totalItems":      strconv.FormatInt(s.TotalItems, 10),
		"correctReviews":  strconv.FormatInt(s.CorrectReviews, 10),
		"streakCurrent":   strconv.FormatInt(s.StreakCurrent, 10),
		"streakBest":      strconv.FormatInt(s.StreakBest, 10),
		"studyTimeMillis": strconv.FormatInt(s.StudyTimeMillis, 10),
		"lastActivityAt":  strconv.FormatInt(s.LastActivityAt, 10),
	}
	for ct, n := range s.ByContentType {
		fields[contentTypeFieldPrefix+ct] = strconv.FormatInt(n, 10)
	}
	return fields
}

func statsFromFields(fields map[string]string) *models.UserStats {
	parse := func(key string) int64 {
		v, _ := strconv.ParseInt(fields[key], 10, 64)
		return v
	}
	stats := &models.UserStats{
		TotalReviews:    parse("totalReviews"),
		TotalItems:      parse("totalItems"),
		CorrectReviews:  parse("correctReviews"),
		StreakCurrent:   parse("streakCurrent"),
		StreakBest:      parse("streakBest"),
		StudyTimeMillis: parse("studyTimeMillis"),
		LastActivityAt:  parse("lastActivityAt"),
	}
	for k, v := range fields {
		if strings.HasPrefix(k, contentTypeFieldPrefix) {
			if stats.ByContentType == nil {
				stats.ByContentType = make(map[string]int64)
			}
			n, _ := strconv.ParseInt(v, 10, 64)
			stats.ByContentType[strings.TrimPrefix(k, contentTypeFieldPrefix)] = n
		}
	}
	return stats
}
