package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelyeFab/moshimoshi-sub008/internal/cache"
	"github.com/HelyeFab/moshimoshi-sub008/internal/db"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
)

func newTestCleaner(t *testing.T) (*Cleaner, *store.Store, *miniredis.Miniredis) {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())

	logger := logging.New(io.Discard, logging.LevelError)
	st := store.New(database, events.NewBus(), logger)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := cache.NewRedisBackend(client)
	queue := cache.NewQueueCache(backend, logger)
	stats := cache.NewStatsCache(backend, logger)

	return NewCleaner(st, queue, stats, logger), st, srv
}

func seedAccount(t *testing.T, st *store.Store, srv *miniredis.Miniredis, cleaner *Cleaner) {
	t.Helper()
	ctx := context.Background()

	listID, err := st.AddList(ctx, "doomed list", models.ListTypeWords)
	require.NoError(t, err)
	require.NoError(t, st.AddItems(ctx, listID, []store.NewItem{
		{Payload: json.RawMessage(`{"front":"水"}`)},
	}))

	cleaner.queue.Set(ctx, "user-1", []models.ReviewQueueItem{{
		ID:    "r1",
		DueAt: models.NowMillis(),
	}})
	cleaner.stats.Set(ctx, "user-1", &models.UserStats{TotalReviews: 9})

	require.True(t, srv.Exists("review:queue:user-1"))
	require.True(t, srv.Exists("stats:user-1"))
}

func TestCleanupAccountWipesEverything(t *testing.T) {
	cleaner, st, srv := newTestCleaner(t)
	ctx := context.Background()
	seedAccount(t, st, srv, cleaner)

	require.NoError(t, cleaner.CleanupAccount(ctx, "user-1"))

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists)

	pending, err := st.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "queued uploads for the wiped account are gone too")

	assert.False(t, srv.Exists("review:queue:user-1"))
	assert.False(t, srv.Exists("stats:user-1"))
}

func TestCleanupAccountRunsHooksInOrder(t *testing.T) {
	cleaner, st, srv := newTestCleaner(t)
	ctx := context.Background()
	seedAccount(t, st, srv, cleaner)

	var order []string
	cleaner.RegisterHook(func(ctx context.Context, userID string) error {
		order = append(order, "push:"+userID)
		return nil
	})
	cleaner.RegisterHook(func(ctx context.Context, userID string) error {
		order = append(order, "exports:"+userID)
		return nil
	})

	require.NoError(t, cleaner.CleanupAccount(ctx, "user-1"))
	assert.Equal(t, []string{"push:user-1", "exports:user-1"}, order)
}

func TestCleanupAccountHookFailureIsNotFatal(t *testing.T) {
	cleaner, st, srv := newTestCleaner(t)
	ctx := context.Background()
	seedAccount(t, st, srv, cleaner)

	secondRan := false
	cleaner.RegisterHook(func(ctx context.Context, userID string) error {
		return errors.New("push service unreachable")
	})
	cleaner.RegisterHook(func(ctx context.Context, userID string) error {
		secondRan = true
		return nil
	})

	require.NoError(t, cleaner.CleanupAccount(ctx, "user-1"))
	assert.True(t, secondRan, "a failing hook does not stop later hooks")

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists, "local wipe happened regardless")
}

func TestCleanupAccountWithoutCaches(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())

	logger := logging.New(io.Discard, logging.LevelError)
	st := store.New(database, events.NewBus(), logger)
	cleaner := NewCleaner(st, nil, nil, logger)
	ctx := context.Background()

	_, err = st.AddList(ctx, "no redis here", models.ListTypeWords)
	require.NoError(t, err)

	require.NoError(t, cleaner.CleanupAccount(ctx, "user-1"))

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists)
}
