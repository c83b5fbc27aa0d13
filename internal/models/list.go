// Package models provides data model definitions for the sync core.
package models

// ListType enumerates the fixed set of list kinds.
type ListType string

const (
	ListTypeWords      ListType = "words"
	ListTypeSentences  ListType = "sentences"
	ListTypeVerbs      ListType = "verbs"
	ListTypeAdjectives ListType = "adjectives"
)

// ValidListType reports whether t is one of the fixed list kinds.
func ValidListType(t ListType) bool {
	switch t {
	case ListTypeWords, ListTypeSentences, ListTypeVerbs, ListTypeAdjectives:
		return true
	}
	return false
}

// List represents a user-created study list.
type List struct {
	ID         UUID       `db:"id" json:"id"`
	Type       ListType   `db:"type" json:"type"`
	Title      string     `db:"title" json:"title"`
	CreatedAt  int64      `db:"created_at" json:"createdAt"`
	UpdatedAt  int64      `db:"updated_at" json:"updatedAt"`
	UserID     string     `db:"user_id" json:"userId,omitempty"`
	SyncStatus SyncStatus `db:"sync_status" json:"syncStatus"`
	LastSyncAt int64      `db:"last_sync_at" json:"lastSyncAt,omitempty"`
}

// TableName returns the table name for List.
func (List) TableName() string {
	return "lists"
}

// Touch updates the UpdatedAt timestamp and marks the record pending.
func (l *List) Touch() {
	l.UpdatedAt = NowMillis()
	l.SyncStatus = SyncStatusPending
}
