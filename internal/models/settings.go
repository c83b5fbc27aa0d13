// Package models provides data model definitions for the sync core.
package models

import "encoding/json"

// Settings record ids form a small fixed set.
const (
	SettingsUI            = "ui"
	SettingsNotifications = "notifications"
	SettingsSync          = "sync"
)

// ValidSettingsID reports whether id names a known settings record.
func ValidSettingsID(id string) bool {
	switch id {
	case SettingsUI, SettingsNotifications, SettingsSync:
		return true
	}
	return false
}

// Well-known settings field names.
const (
	SettingsFieldQuietHoursStart = "quietHoursStart"
	SettingsFieldQuietHoursEnd   = "quietHoursEnd"
	SettingsFieldSyncEnabled     = "syncEnabled"
	SettingsFieldLastSyncAt      = "lastSyncAt"
)

// Settings is a keyed bag of free-form configuration fields.
type Settings struct {
	ID         string          `db:"id" json:"id"`
	Data       json.RawMessage `db:"data" json:"data"`
	UpdatedAt  int64           `db:"updated_at" json:"updatedAt"`
	SyncStatus SyncStatus      `db:"sync_status" json:"syncStatus"`
}

// TableName returns the table name for Settings.
func (Settings) TableName() string {
	return "settings"
}

// Fields decodes the data blob into a map, empty when unset.
func (s *Settings) Fields() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(s.Data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(s.Data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
