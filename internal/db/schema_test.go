package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestInitSchemaAppliesAllVersions(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.InitSchema())

	version, err := database.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	for _, table := range []string{"lists", "items", "review_queue", "streak", "settings", "sync_outbox", "conflicts"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.InitSchema())
	require.NoError(t, database.InitSchema())

	version, err := database.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestInitSchemaUpgradesFromOlderVersion(t *testing.T) {
	database := newTestDB(t)

	// Install only version 1, the way an old deployment would look.
	tx, err := database.Begin()
	require.NoError(t, err)
	_, err = tx.Exec(schemaVersions[0])
	require.NoError(t, err)
	_, err = tx.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, database.InitSchema())

	version, err := database.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	var name string
	err = database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'conflicts'",
	).Scan(&name)
	require.NoError(t, err, "upgrade added the conflicts table")
}

func TestStreakTableRejectsNonGlobalID(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.InitSchema())

	_, err := database.Exec(
		"INSERT INTO streak (id, current, best, last_active_at) VALUES ('other', 1, 1, 0)")
	assert.Error(t, err, "streak is a singleton row")

	_, err = database.Exec(
		"INSERT INTO streak (id, current, best, last_active_at) VALUES ('global', 1, 1, 0)")
	assert.NoError(t, err)
}
