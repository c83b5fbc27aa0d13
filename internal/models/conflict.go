// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"time"
)

// EntityType names a synchronized collection.
type EntityType string

const (
	EntityLists    EntityType = "lists"
	EntityItems    EntityType = "items"
	EntityReviews  EntityType = "reviews"
	EntityStreak   EntityType = "streak"
	EntitySettings EntityType = "settings"
)

// ConflictItem records a local/remote pair the engine could not resolve
// deterministically. It is surfaced to the UI host for external resolution.
type ConflictItem struct {
	ID            UUID            `db:"id" json:"id"`
	EntityType    EntityType      `db:"entity_type" json:"type"`
	LocalVersion  json.RawMessage `db:"local_json" json:"localVersion"`
	RemoteVersion json.RawMessage `db:"remote_json" json:"remoteVersion"`
	Resolution    string          `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt    int64           `db:"resolved_at" json:"resolvedAt,omitempty"`
	DetectedAt    int64           `db:"detected_at" json:"detectedAt"`
}

// TableName returns the table name for ConflictItem.
func (ConflictItem) TableName() string {
	return "conflicts"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictItem) DetectedAtTime() time.Time {
	return MillisToTime(c.DetectedAt)
}
