// Package models provides data model definitions for the sync core.
package models

import "encoding/json"

// Item represents a single study entry inside a list.
//
// ListID is a weak reference: it must name an existing List at creation
// time, but orphaned items after a list deletion are tolerated and cleaned
// up opportunistically during reconciliation.
type Item struct {
	ID         UUID            `db:"id" json:"id"`
	ListID     UUID            `db:"list_id" json:"listId"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Tags       string          `db:"tags" json:"tags,omitempty"`
	CreatedAt  int64           `db:"created_at" json:"createdAt"`
	UpdatedAt  int64           `db:"updated_at" json:"updatedAt,omitempty"`
	SyncStatus SyncStatus      `db:"sync_status" json:"syncStatus"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// Touch updates the UpdatedAt timestamp and marks the record pending.
func (i *Item) Touch() {
	i.UpdatedAt = NowMillis()
	i.SyncStatus = SyncStatusPending
}
