package store

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelyeFab/moshimoshi-sub008/internal/db"
	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.InitSchema())

	logger := logging.New(io.Discard, logging.LevelError)
	return New(database, events.NewBus(), logger)
}

func TestAddListWritesDataAndOutboxTogether(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.AddList(ctx, "JLPT N5 vocab", models.ListTypeWords)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list, err := st.GetList(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "JLPT N5 vocab", list.Title)
	assert.Equal(t, models.SyncStatusPending, list.SyncStatus)

	pending, err := st.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpAddList, pending[0].Type)

	var payload models.List
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, id, payload.ID)
}

func TestAddListValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.AddList(ctx, "", models.ListTypeWords)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = st.AddList(ctx, "ok", models.ListType("kanji"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	count, err := st.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "rejected mutations must not leave outbox entries")
}

func TestAddItemsCreatesImmediatelyDueReviews(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	listID, err := st.AddList(ctx, "verbs", models.ListTypeVerbs)
	require.NoError(t, err)

	items := []NewItem{
		{Payload: json.RawMessage(`{"front":"食べる","back":"to eat"}`)},
		{Payload: json.RawMessage(`{"front":"飲む","back":"to drink"}`)},
		{Payload: json.RawMessage(`{"front":"行く","back":"to go"}`), Tags: "motion"},
	}
	require.NoError(t, st.AddItems(ctx, listID, items))

	stored, err := st.ListItems(ctx, listID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	dueCount, err := st.GetDueCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dueCount, "new items are immediately due")

	due, err := st.GetDueItems(ctx, DefaultDueLimit)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	// One entry for the list plus one per item.
	count, err := st.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestAddItemsRejectsUnknownList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.AddItems(ctx, models.UUID(uuid.New()), []NewItem{{Payload: json.RawMessage(`{}`)}})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestGetDueItemsOrderedAndCapped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	listID, err := st.AddList(ctx, "words", models.ListTypeWords)
	require.NoError(t, err)

	now := models.NowMillis()
	dueAts := []int64{now - 5000, now - 20000, now - 1000, now + 60000}
	var itemIDs []models.UUID
	for _, dueAt := range dueAts {
		item := &models.Item{
			ID:         models.UUID(uuid.New()),
			ListID:     listID,
			Payload:    json.RawMessage(`{}`),
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: models.SyncStatusSynced,
		}
		require.NoError(t, st.PutItem(ctx, item))
		itemIDs = append(itemIDs, item.ID)

		require.NoError(t, st.PutReviewItem(ctx, &models.ReviewQueueItem{
			ID:         models.UUID(uuid.New()),
			ItemID:     item.ID,
			DueAt:      dueAt,
			SyncStatus: models.SyncStatusSynced,
		}))
	}

	due, err := st.GetDueItems(ctx, DefaultDueLimit)
	require.NoError(t, err)
	require.Len(t, due, 3, "future item must be excluded")
	assert.Equal(t, itemIDs[1], due[0].ID, "oldest due first")
	assert.Equal(t, itemIDs[0], due[1].ID)
	assert.Equal(t, itemIDs[2], due[2].ID)

	capped, err := st.GetDueItems(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestUpdateReviewRequiresExistingEntry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.UpdateReview(ctx, &models.ReviewQueueItem{ID: models.UUID(uuid.New())})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestUpdateStreakPatchPromotesBest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	current := 7
	lastActive := models.NowMillis()
	streak, err := st.UpdateStreak(ctx, models.StreakPatch{
		Current:      &current,
		LastActiveAt: &lastActive,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, streak.Current)
	assert.Equal(t, 7, streak.Best, "best follows current upward")
	assert.Equal(t, models.SyncStatusPending, streak.SyncStatus)

	lower := 2
	streak, err = st.UpdateStreak(ctx, models.StreakPatch{Current: &lower})
	require.NoError(t, err)
	assert.Equal(t, 2, streak.Current)
	assert.Equal(t, 7, streak.Best, "best never decreases")

	pending, err := st.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.OpUpdateStreak, pending[0].Type)
}

func TestUpdateSettingsShallowMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpdateSettings(ctx, models.SettingsUI, map[string]interface{}{"theme": "dark"})
	require.NoError(t, err)

	settings, err := st.UpdateSettings(ctx, models.SettingsUI, map[string]interface{}{"fontScale": 1.25})
	require.NoError(t, err)

	fields, err := settings.Fields()
	require.NoError(t, err)
	assert.Equal(t, "dark", fields["theme"], "earlier fields survive the merge")
	assert.Equal(t, 1.25, fields["fontScale"])

	_, err = st.UpdateSettings(ctx, "unknown", map[string]interface{}{"x": 1})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestMarkSyncedLeavesOutboxAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.AddList(ctx, "adjectives", models.ListTypeAdjectives)
	require.NoError(t, err)

	require.NoError(t, st.MarkSynced(ctx, models.EntityLists, id.String()))

	list, err := st.GetList(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, list.SyncStatus)

	count, err := st.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "marking synced is not completing the outbox entry")
}

func TestDeleteOrphanItems(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	listID, err := st.AddList(ctx, "words", models.ListTypeWords)
	require.NoError(t, err)
	require.NoError(t, st.AddItems(ctx, listID, []NewItem{{Payload: json.RawMessage(`{}`)}}))

	// Simulate a remote list delete arriving before its items are cleaned.
	require.NoError(t, st.DeleteList(ctx, listID))

	removed, err := st.DeleteOrphanItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	items, err := st.ListItems(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items)

	reviews, err := st.ListReviewQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, reviews, "review entries for orphaned items are removed too")
}

func TestClearAllData(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	listID, err := st.AddList(ctx, "words", models.ListTypeWords)
	require.NoError(t, err)
	require.NoError(t, st.AddItems(ctx, listID, []NewItem{{Payload: json.RawMessage(`{}`)}}))

	require.NoError(t, st.ClearAllData(ctx))

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists)

	count, err := st.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "outbox is wiped with the data")
}

func TestMutationsPublishDueCountChanged(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())

	bus := events.NewBus()
	notified := make(chan events.Event, 4)
	bus.Subscribe(events.TopicDueCountChanged, func(e events.Event) { notified <- e })

	st := New(database, bus, logging.New(io.Discard, logging.LevelError))

	_, err = st.AddList(context.Background(), "words", models.ListTypeWords)
	require.NoError(t, err)

	select {
	case e := <-notified:
		assert.Equal(t, events.TopicDueCountChanged, e.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a due-count-changed event")
	}
}
