package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelyeFab/moshimoshi-sub008/internal/db"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
	syncpkg "github.com/HelyeFab/moshimoshi-sub008/internal/sync"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/outbox"
	"github.com/HelyeFab/moshimoshi-sub008/internal/transport"
	"github.com/HelyeFab/moshimoshi-sub008/internal/uuid"
)

// stubTransport accepts every push and serves scripted pull responses.
type stubTransport struct {
	mu     sync.Mutex
	pushed int
	pulled map[string][]json.RawMessage
}

func newStubTransport() *stubTransport {
	return &stubTransport{pulled: make(map[string][]json.RawMessage)}
}

func (s *stubTransport) Push(ctx context.Context, op transport.PushOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed++
	return nil
}

func (s *stubTransport) Pull(ctx context.Context, resource string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled[resource], nil
}

func (s *stubTransport) PushResource(ctx context.Context, resource string, record interface{}) error {
	return nil
}

func (s *stubTransport) pushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

func newTestScheduler(t *testing.T, config *SchedulerConfig) (*Scheduler, *store.Store, *stubTransport) {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())

	logger := logging.New(io.Discard, logging.LevelError)
	bus := events.NewBus()
	st := store.New(database, bus, logger)

	tr := newStubTransport()
	engine := syncpkg.NewEngine(st, outbox.NewManager(st, logger), tr, nil, nil, bus, logger)
	return NewScheduler(engine, logger, config), st, tr
}

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	assert.Equal(t, 15*time.Minute, config.SyncInterval)
	assert.Equal(t, time.Minute, config.DrainInterval)
}

func TestStartAndStop(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	assert.False(t, s.IsRunning())

	s.Start(ctx)
	assert.True(t, s.IsRunning())

	// A second Start must not spawn duplicate loops.
	s.Start(ctx)

	s.Stop()
	assert.False(t, s.IsRunning())

	// Stop after Stop is a no-op, not a double close.
	s.Stop()
}

func TestSetOnlineStatusDrainsOnReconnect(t *testing.T) {
	s, st, tr := newTestScheduler(t, nil)
	ctx := context.Background()

	_, err := st.AddList(ctx, "written offline", models.ListTypeWords)
	require.NoError(t, err)

	s.SetOnlineStatus(ctx, false)
	assert.False(t, s.IsOnline())
	assert.Zero(t, tr.pushCount())

	s.SetOnlineStatus(ctx, true)

	require.Eventually(t, func() bool {
		pending, err := s.engine.PendingChanges(ctx)
		return err == nil && pending == 0
	}, 3*time.Second, 20*time.Millisecond, "reconnect drains the queued work")
	assert.Equal(t, 1, tr.pushCount())
}

func TestSetOnlineStatusUnchangedIsSilent(t *testing.T) {
	s, st, tr := newTestScheduler(t, nil)
	ctx := context.Background()

	_, err := st.AddList(ctx, "queued", models.ListTypeWords)
	require.NoError(t, err)

	// Already online: repeating it must not kick a drain.
	s.SetOnlineStatus(ctx, true)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, tr.pushCount())
}

func TestSyncNowReturnsResult(t *testing.T) {
	s, st, tr := newTestScheduler(t, nil)
	ctx := context.Background()

	listJSON, err := json.Marshal(&models.List{
		ID:        models.UUID(uuid.New()),
		Type:      models.ListTypeWords,
		Title:     "from the server",
		CreatedAt: models.NowMillis(),
		UpdatedAt: models.NowMillis(),
	})
	require.NoError(t, err)
	tr.mu.Lock()
	tr.pulled["lists"] = []json.RawMessage{listJSON}
	tr.mu.Unlock()

	result, err := s.SyncNow(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Adopted)

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)

	status := s.GetStatus(ctx)
	require.NotNil(t, status.LastSyncTime)
	assert.WithinDuration(t, time.Now(), *status.LastSyncTime, time.Minute)
}

func TestTriggerSyncRunsInBackground(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	require.True(t, s.TriggerSync(ctx))

	require.Eventually(t, func() bool {
		return s.GetStatus(ctx).LastSyncTime != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGetStatusReportsPendingItems(t *testing.T) {
	s, st, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	listID, err := st.AddList(ctx, "pending ops", models.ListTypeWords)
	require.NoError(t, err)
	require.NoError(t, st.AddItems(ctx, listID, []store.NewItem{
		{Payload: json.RawMessage(`{"front":"山"}`)},
	}))

	status := s.GetStatus(ctx)
	assert.Equal(t, 2, status.PendingItems)
	assert.False(t, status.IsRunning)
	assert.True(t, status.IsOnline)
}

func TestPeriodicLoopsSkipWhileOffline(t *testing.T) {
	s, st, tr := newTestScheduler(t, &SchedulerConfig{
		SyncInterval:  20 * time.Millisecond,
		DrainInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := st.AddList(ctx, "stuck until online", models.ListTypeWords)
	require.NoError(t, err)

	s.SetOnlineStatus(ctx, false)
	s.Start(ctx)
	defer s.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, tr.pushCount(), "offline ticks do nothing")

	s.SetOnlineStatus(ctx, true)

	require.Eventually(t, func() bool {
		return tr.pushCount() == 1
	}, 3*time.Second, 20*time.Millisecond, "back online, the next tick drains")
}
