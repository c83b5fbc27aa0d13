package cache

import "time"

// TTLs per key family. Queues change often but rebuild cheaply; stats are
// expensive to recompute and tolerate more staleness.
const (
	QueueTTL    = 30 * time.Minute
	MetadataTTL = 15 * time.Minute
	DueTTL      = 10 * time.Minute
	StatsTTL    = 60 * time.Minute
	StreakTTL   = 30 * time.Minute
	ProgressTTL = 15 * time.Minute
)

// Key builders. All cache keys are namespaced per user so account cleanup
// can enumerate and purge them via the tracking sets.
func queueKey(userID string) string     { return "review:queue:" + userID }
func queueMetaKey(userID string) string { return "review:queue:meta:" + userID }
func dueKey(userID string) string       { return "review:due:" + userID }
func statsKey(userID string) string     { return "stats:" + userID }
func streakKey(userID string) string    { return "stats:streak:" + userID }
func progressKey(userID string) string  { return "stats:progress:" + userID }

// Tracking sets record which keys were written for a user, so
// invalidation and cleanup never have to SCAN.
func queueTrackingKey(userID string) string { return "cachekeys:queue:" + userID }
func statsTrackingKey(userID string) string { return "cachekeys:stats:" + userID }
