// Package models provides data model definitions for the sync core.
package models

// StreakID is the primary key of the singleton streak record.
const StreakID = "global"

// Streak tracks consecutive days of study activity.
// Invariant: Best >= Current at all times after reconciliation.
type Streak struct {
	ID           string     `db:"id" json:"id"`
	Current      int        `db:"current" json:"current"`
	Best         int        `db:"best" json:"best"`
	LastActiveAt int64      `db:"last_active_at" json:"lastActiveAt"`
	StartedAt    int64      `db:"started_at" json:"startedAt"`
	DailyHistory string     `db:"daily_history" json:"dailyHistory,omitempty"`
	SyncStatus   SyncStatus `db:"sync_status" json:"syncStatus"`
}

// TableName returns the table name for Streak.
func (Streak) TableName() string {
	return "streak"
}

// Normalize promotes Best when Current exceeds it.
func (s *Streak) Normalize() {
	if s.Current > s.Best {
		s.Best = s.Current
	}
}

// StreakPatch is a partial update to the streak record.
// Nil fields are left unchanged.
type StreakPatch struct {
	Current      *int
	Best         *int
	LastActiveAt *int64
	StartedAt    *int64
	DailyHistory *string
}

// Apply merges the patch into s and re-establishes the Best invariant.
func (p StreakPatch) Apply(s *Streak) {
	if p.Current != nil {
		s.Current = *p.Current
	}
	if p.Best != nil {
		s.Best = *p.Best
	}
	if p.LastActiveAt != nil {
		s.LastActiveAt = *p.LastActiveAt
	}
	if p.StartedAt != nil {
		s.StartedAt = *p.StartedAt
	}
	if p.DailyHistory != nil {
		s.DailyHistory = *p.DailyHistory
	}
	s.Normalize()
}
