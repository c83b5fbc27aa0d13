package scheduler

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

func TestHandleSyncOutboxDrainsPendingWork(t *testing.T) {
	s, st, tr := newTestScheduler(t, nil)
	ctx := context.Background()
	logger := logging.New(io.Discard, logging.LevelError)

	_, err := st.AddList(ctx, "background event", models.ListTypeWords)
	require.NoError(t, err)

	require.NoError(t, HandleSyncOutbox(ctx, s.engine, logger))
	assert.Equal(t, 1, tr.pushCount())

	pending, err := s.engine.PendingChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestHandleSyncOutboxSkipsWhenEmpty(t *testing.T) {
	s, _, tr := newTestScheduler(t, nil)

	require.NoError(t, HandleSyncOutbox(context.Background(), s.engine, nil))
	assert.Zero(t, tr.pushCount())
}

func TestHandlePeriodicSyncByTag(t *testing.T) {
	ctx := context.Background()
	logger := logging.New(io.Discard, logging.LevelError)

	t.Run("outbox tag drains only", func(t *testing.T) {
		s, st, tr := newTestScheduler(t, nil)
		_, err := st.AddList(ctx, "tagged drain", models.ListTypeWords)
		require.NoError(t, err)

		require.NoError(t, HandlePeriodicSync(ctx, s.engine, TagSyncOutbox, logger))
		assert.Equal(t, 1, tr.pushCount())
	})

	t.Run("periodic tag reconciles", func(t *testing.T) {
		s, st, _ := newTestScheduler(t, nil)
		listID, err := st.AddList(ctx, "to be swept", models.ListTypeWords)
		require.NoError(t, err)
		require.NoError(t, st.MarkSynced(ctx, models.EntityLists, listID.String()))

		// Server has no record of it: reconciliation removes it.
		require.NoError(t, HandlePeriodicSync(ctx, s.engine, TagPeriodicSync, logger))

		lists, err := st.ListLists(ctx)
		require.NoError(t, err)
		assert.Empty(t, lists)
	})

	t.Run("unknown tag does both", func(t *testing.T) {
		s, st, tr := newTestScheduler(t, nil)
		_, err := st.AddList(ctx, "everything", models.ListTypeWords)
		require.NoError(t, err)

		require.NoError(t, HandlePeriodicSync(ctx, s.engine, "some-future-tag", logger))
		assert.Equal(t, 1, tr.pushCount())
	})
}
