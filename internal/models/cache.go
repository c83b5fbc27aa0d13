// Package models provides data model definitions for the sync core.
package models

// QueueMetadata describes a user's cached review queue. It must stay
// consistent with the ordered structure under every mutating operation.
// Version increases monotonically so staleness is at least detectable.
type QueueMetadata struct {
	LastUpdated   int64 `json:"lastUpdated"`
	TotalItems    int64 `json:"totalItems"`
	DueItems      int64 `json:"dueItems"`
	NewItems      int64 `json:"newItems"`
	LearningItems int64 `json:"learningItems"`
	Version       int64 `json:"version"`
}

// UserStats is the field-addressable per-user statistics record held in
// the stats cache. Counter fields support atomic increment without a full
// read-modify-write.
type UserStats struct {
	TotalReviews    int64            `json:"totalReviews"`
	TotalItems      int64            `json:"totalItems"`
	CorrectReviews  int64            `json:"correctReviews"`
	StreakCurrent   int64            `json:"streakCurrent"`
	StreakBest      int64            `json:"streakBest"`
	StudyTimeMillis int64            `json:"studyTimeMillis"`
	LastActivityAt  int64            `json:"lastActivityAt"`
	ByContentType   map[string]int64 `json:"byContentType,omitempty"`
}
