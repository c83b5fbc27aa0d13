// Package models provides data model definitions for the sync core.
package models

import "encoding/json"

// OpType is a mutation kind recorded in the sync outbox.
type OpType string

const (
	OpAddList        OpType = "addList"
	OpUpdateList     OpType = "updateList"
	OpDeleteList     OpType = "deleteList"
	OpAddItem        OpType = "addItem"
	OpUpdateItem     OpType = "updateItem"
	OpDeleteItem     OpType = "deleteItem"
	OpUpdateReview   OpType = "updateReview"
	OpUpdateStreak   OpType = "updateStreak"
	OpUpdateSettings OpType = "updateSettings"
)

// ValidOpType reports whether t is a known mutation kind.
func ValidOpType(t OpType) bool {
	switch t {
	case OpAddList, OpUpdateList, OpDeleteList,
		OpAddItem, OpUpdateItem, OpDeleteItem,
		OpUpdateReview, OpUpdateStreak, OpUpdateSettings:
		return true
	}
	return false
}

// SyncOutboxItem is the unit of durability for offline writes.
//
// Every mutating local store operation appends exactly one outbox row in
// the same transaction as the data write, so no locally-committed mutation
// is ever silently lost before being synced or dead-lettered.
type SyncOutboxItem struct {
	ID            UUID            `db:"id" json:"id"`
	Type          OpType          `db:"op_type" json:"type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	CreatedAt     int64           `db:"created_at" json:"createdAt"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	Error         string          `db:"error" json:"error,omitempty"`
}

// TableName returns the table name for SyncOutboxItem.
func (SyncOutboxItem) TableName() string {
	return "sync_outbox"
}
