// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"sort"
)

// ReviewOutcome is one past review of an item.
type ReviewOutcome struct {
	Timestamp int64  `json:"timestamp"`
	Outcome   string `json:"outcome"`
}

// ReviewHistory is an append-only list of past review outcomes.
// It is never truncated locally, only merged.
type ReviewHistory []ReviewOutcome

// Merge unions two histories, de-duplicating by (timestamp, outcome) and
// sorting by timestamp ascending. Two entries with the same millisecond but
// different outcomes are both kept; identical pairs are treated as the same
// physical review observed on two devices.
func (h ReviewHistory) Merge(other ReviewHistory) ReviewHistory {
	seen := make(map[ReviewOutcome]bool, len(h)+len(other))
	merged := make(ReviewHistory, 0, len(h)+len(other))
	for _, src := range []ReviewHistory{h, other} {
		for _, o := range src {
			if seen[o] {
				continue
			}
			seen[o] = true
			merged = append(merged, o)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

// ReviewQueueItem schedules an Item for spaced-repetition review.
//
// ItemID is a weak reference to an Item. DueAt (epoch millis) is the
// ordering key: it monotonically determines queue position.
type ReviewQueueItem struct {
	ID             UUID          `db:"id" json:"id"`
	ItemID         UUID          `db:"item_id" json:"itemId"`
	DueAt          int64         `db:"due_at" json:"dueAt"`
	Difficulty     float64       `db:"difficulty" json:"difficulty,omitempty"`
	Stability      float64       `db:"stability" json:"stability,omitempty"`
	Retrievability float64       `db:"retrievability" json:"retrievability,omitempty"`
	Lapses         int           `db:"lapses" json:"lapses,omitempty"`
	Reps           int           `db:"reps" json:"reps,omitempty"`
	Interval       float64       `db:"interval" json:"interval,omitempty"`
	History        ReviewHistory `db:"history" json:"history"`
	SyncStatus     SyncStatus    `db:"sync_status" json:"syncStatus"`
}

// TableName returns the table name for ReviewQueueItem.
func (ReviewQueueItem) TableName() string {
	return "review_queue"
}

// IsDue reports whether the item is due at the given epoch-millis instant.
func (r *ReviewQueueItem) IsDue(nowMillis int64) bool {
	return r.DueAt <= nowMillis
}

// HistoryJSON returns the history serialized for storage, "[]" when empty.
func (r *ReviewQueueItem) HistoryJSON() string {
	if len(r.History) == 0 {
		return "[]"
	}
	data, err := json.Marshal(r.History)
	if err != nil {
		return "[]"
	}
	return string(data)
}
