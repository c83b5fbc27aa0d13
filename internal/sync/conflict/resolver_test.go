package conflict

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

func newTestResolver() *Resolver {
	return NewResolver(logging.New(io.Discard, logging.LevelError))
}

func TestPolicyForIsFixed(t *testing.T) {
	assert.Equal(t, PolicyMerge, PolicyFor(models.EntityLists))
	assert.Equal(t, PolicyMerge, PolicyFor(models.EntityItems))
	assert.Equal(t, PolicyAppend, PolicyFor(models.EntityReviews))
	assert.Equal(t, PolicyLWW, PolicyFor(models.EntityStreak))
	assert.Equal(t, PolicyLWW, PolicyFor(models.EntitySettings))
	assert.Equal(t, PolicyManual, PolicyFor(models.EntityType("unknown")))
}

func TestResolveMergeLocalWinsOnCollision(t *testing.T) {
	r := newTestResolver()

	local := json.RawMessage(`{"id":"l1","title":"local","updatedAt":1000,"color":"blue"}`)
	remote := json.RawMessage(`{"id":"l1","title":"remote","updatedAt":2000,"pinned":true}`)

	res, err := r.Resolve(models.EntityLists, local, remote)
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, res.Policy)
	assert.True(t, res.PushBoth, "merge produces a version neither side has")
	assert.False(t, res.Manual)

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Merged, &merged))
	assert.Equal(t, "local", merged["title"], "local field wins the collision")
	assert.Equal(t, "blue", merged["color"], "local-only field kept")
	assert.Equal(t, true, merged["pinned"], "remote-only field kept")
	assert.Equal(t, float64(2000), merged["updatedAt"], "timestamp becomes the max of both sides")
	assert.Equal(t, string(models.SyncStatusSynced), merged["syncStatus"])
}

func TestResolveAppendUnionsHistories(t *testing.T) {
	r := newTestResolver()

	local := models.ReviewQueueItem{
		ID:     "r1",
		ItemID: "i1",
		DueAt:  5000,
		Reps:   2,
		History: models.ReviewHistory{
			{Timestamp: 100, Outcome: "good"},
			{Timestamp: 200, Outcome: "again"},
		},
	}
	remote := models.ReviewQueueItem{
		ID:     "r1",
		ItemID: "i1",
		DueAt:  9000,
		Reps:   3,
		History: models.ReviewHistory{
			{Timestamp: 100, Outcome: "good"},
			{Timestamp: 300, Outcome: "good"},
		},
	}

	localJSON, _ := json.Marshal(&local)
	remoteJSON, _ := json.Marshal(&remote)

	res, err := r.Resolve(models.EntityReviews, localJSON, remoteJSON)
	require.NoError(t, err)
	assert.True(t, res.PushBoth)

	var merged models.ReviewQueueItem
	require.NoError(t, json.Unmarshal(res.Merged, &merged))

	require.Len(t, merged.History, 3, "identical (timestamp, outcome) pairs collapse")
	assert.Equal(t, int64(100), merged.History[0].Timestamp)
	assert.Equal(t, int64(200), merged.History[1].Timestamp)
	assert.Equal(t, int64(300), merged.History[2].Timestamp)

	// Scheduling state comes from the side with the newest review.
	assert.Equal(t, int64(9000), merged.DueAt)
	assert.Equal(t, 3, merged.Reps)
	assert.Equal(t, models.SyncStatusSynced, merged.SyncStatus)
}

func TestResolveAppendKeepsSameMillisDifferentOutcome(t *testing.T) {
	r := newTestResolver()

	local := models.ReviewQueueItem{ID: "r1", History: models.ReviewHistory{{Timestamp: 100, Outcome: "good"}}}
	remote := models.ReviewQueueItem{ID: "r1", History: models.ReviewHistory{{Timestamp: 100, Outcome: "again"}}}

	localJSON, _ := json.Marshal(&local)
	remoteJSON, _ := json.Marshal(&remote)

	res, err := r.Resolve(models.EntityReviews, localJSON, remoteJSON)
	require.NoError(t, err)

	var merged models.ReviewQueueItem
	require.NoError(t, json.Unmarshal(res.Merged, &merged))
	assert.Len(t, merged.History, 2, "same millisecond, different outcome: both kept")
}

func TestResolveLastWriteWins(t *testing.T) {
	r := newTestResolver()

	local := json.RawMessage(`{"id":"global","current":7,"lastActiveAt":1000}`)
	remote := json.RawMessage(`{"id":"global","current":9,"lastActiveAt":2000}`)

	res, err := r.Resolve(models.EntityStreak, local, remote)
	require.NoError(t, err)
	assert.Equal(t, PolicyLWW, res.Policy)
	assert.Equal(t, SideRemote, res.Winner)
	assert.False(t, res.PushBoth, "lww only adopts an existing version")
	assert.JSONEq(t, string(remote), string(res.Merged))
}

func TestResolveLastWriteWinsTieKeepsLocal(t *testing.T) {
	r := newTestResolver()

	local := json.RawMessage(`{"id":"ui","updatedAt":5000,"data":{"theme":"dark"}}`)
	remote := json.RawMessage(`{"id":"ui","updatedAt":5000,"data":{"theme":"light"}}`)

	res, err := r.Resolve(models.EntitySettings, local, remote)
	require.NoError(t, err)
	assert.Equal(t, SideLocal, res.Winner)
	assert.JSONEq(t, string(local), string(res.Merged))
}

func TestResolveUnmappedEntityIsManual(t *testing.T) {
	r := newTestResolver()

	res, err := r.Resolve(models.EntityType("annotations"), json.RawMessage(`{}`), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.Manual, "unmapped types are never guessed")
	assert.Nil(t, res.Merged)
}
