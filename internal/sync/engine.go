// Package sync provides the client sync engine: it drains the outbox
// against the remote endpoint and reconciles local state with the server.
package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/conflict"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/outbox"
	"github.com/HelyeFab/moshimoshi-sub008/internal/transport"
)

// Transport is the remote endpoint surface the engine drives. Satisfied by
// *transport.Client; tests substitute fakes.
type Transport interface {
	Push(ctx context.Context, op transport.PushOp) error
	Pull(ctx context.Context, resource string) ([]json.RawMessage, error)
	PushResource(ctx context.Context, resource string, record interface{}) error
}

// SyncStatus represents the current engine status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// DrainDebounce coalesces bursts of mutations into one drain attempt.
const DrainDebounce = 500 * time.Millisecond

// Engine drains the outbox and reconciles local state against the server.
type Engine struct {
	store     *store.Store
	outbox    *outbox.Manager
	transport Transport
	resolver  *conflict.Resolver
	breaker   *outbox.CircuitBreaker
	bus       *events.Bus
	logger    *logging.Logger

	mu          sync.Mutex
	draining    bool
	syncing     bool
	authBlocked bool
	status      SyncStatus
	lastSync    *time.Time
	lastErr     error
	retryTimer  *time.Timer
}

// NewEngine creates an Engine. All collaborators are injected; the engine
// holds no ambient global state.
func NewEngine(st *store.Store, ob *outbox.Manager, tr Transport, resolver *conflict.Resolver,
	breaker *outbox.CircuitBreaker, bus *events.Bus, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Get()
	}
	if breaker == nil {
		breaker = outbox.NewCircuitBreaker()
	}
	if resolver == nil {
		resolver = conflict.NewResolver(logger)
	}
	return &Engine{
		store:     st,
		outbox:    ob,
		transport: tr,
		resolver:  resolver,
		breaker:   breaker,
		bus:       bus,
		logger:    logger,
		status:    SyncStatusIdle,
	}
}

// Status returns the current engine status.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the timestamp of the last successful reconciliation.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the last drain or reconciliation error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Reauthorized clears the auth block set by a 401/403, allowing drains to
// resume with fresh credentials.
func (e *Engine) Reauthorized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authBlocked = false
}

// ScheduleDrain arranges a drain attempt after the debounce window,
// coalescing with any drain already scheduled.
func (e *Engine) ScheduleDrain(delay time.Duration) {
	if delay <= 0 {
		delay = DrainDebounce
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := e.Drain(ctx); err != nil {
			e.logger.Error("Scheduled drain failed", err)
		}
	})
}

// Drain processes pending outbox entries in FIFO order, sequentially, so a
// later mutation is never observed by the server before an earlier one.
// A pass stops at the first retryable failure to preserve ordering.
func (e *Engine) Drain(ctx context.Context) error {
	if !e.breaker.Allow() {
		e.logger.Debug("Drain suppressed: circuit breaker open")
		return nil
	}

	e.mu.Lock()
	if e.authBlocked {
		e.mu.Unlock()
		e.logger.Debug("Drain suppressed: awaiting re-authentication")
		return nil
	}
	if e.draining {
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	items, err := e.outbox.Pending(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		// Healthy: nothing pending resets the consecutive-failure counter.
		e.breaker.RecordSuccess()
		return nil
	}

	passFailed := false
	attempted := false
	for i := range items {
		item := &items[i]

		if !outbox.Eligible(item, time.Now()) {
			// Backoff window for the head entry has not elapsed; later
			// entries must wait behind it.
			e.ScheduleDrain(outbox.Backoff(item.Attempts))
			break
		}
		attempted = true

		err := e.transport.Push(ctx, transport.PushOp{
			OpID:      item.ID.String(),
			Type:      string(item.Type),
			Payload:   item.Payload,
			CreatedAt: item.CreatedAt,
		})

		var statusErr *transport.StatusError
		switch {
		case err == nil:
			if err := e.completePush(ctx, item); err != nil {
				return err
			}

		case stderrors.As(err, &statusErr) && statusErr.IsAuth():
			// Stale credentials: abort the whole pass, surface the signal,
			// and stop retrying until re-authentication.
			e.mu.Lock()
			e.authBlocked = true
			e.lastErr = err
			e.mu.Unlock()
			if e.bus != nil {
				e.bus.Publish(events.TopicAuthRequired, statusErr.Code)
			}
			e.breaker.RecordFailure()
			return apperrors.Wrap(apperrors.ErrSyncAuth, "sync endpoint rejected credentials", err)

		case stderrors.As(err, &statusErr) && statusErr.IsConflict():
			// Conflict resolution always produces a terminal state for
			// this entry.
			e.resolveConflictPush(ctx, item, statusErr.Body)
			if err := e.outbox.Complete(ctx, item); err != nil {
				return err
			}

		case stderrors.As(err, &statusErr) && !statusErr.IsRetryable():
			// Permanent client error.
			if err := e.outbox.DeadLetter(ctx, item, statusErr); err != nil {
				return err
			}
			e.publishSyncError(item, statusErr)

		default:
			// Transport failure or 5xx: retryable.
			deadLettered, failErr := e.outbox.Fail(ctx, item, err)
			if failErr != nil {
				return failErr
			}
			if deadLettered {
				e.publishSyncError(item, err)
				continue
			}
			passFailed = true
			e.mu.Lock()
			e.lastErr = err
			e.mu.Unlock()
			e.ScheduleDrain(outbox.Backoff(item.Attempts))
		}

		if passFailed {
			break
		}
	}

	if passFailed {
		e.breaker.RecordFailure()
	} else if attempted {
		e.breaker.RecordSuccess()
	}
	return nil
}

// completePush removes the entry and flips the affected record to synced.
func (e *Engine) completePush(ctx context.Context, item *models.SyncOutboxItem) error {
	if err := e.outbox.Complete(ctx, item); err != nil {
		return err
	}

	entity := entityForOp(item.Type)
	if entity == "" || isDeleteOp(item.Type) {
		return nil
	}
	id := recordID(item.Payload)
	if id == "" {
		return nil
	}
	if err := e.store.MarkSynced(ctx, entity, id); err != nil {
		e.logger.Error("Failed to mark record synced", err,
			map[string]interface{}{"entity": entity, "id": id})
	}
	return nil
}

// resolveConflictPush resolves a 409 for a single outbox entry. The server
// response body carries the remote version.
func (e *Engine) resolveConflictPush(ctx context.Context, item *models.SyncOutboxItem, remote []byte) {
	entity := entityForOp(item.Type)

	res, err := e.resolver.Resolve(entity, item.Payload, remote)
	if err != nil || res.Manual {
		e.storeConflict(ctx, entity, item.Payload, remote)
		return
	}

	if err := e.applyRecord(ctx, entity, res.Merged); err != nil {
		e.logger.Error("Failed to apply conflict resolution locally", err,
			map[string]interface{}{"entity": entity})
		return
	}
	if res.PushBoth || res.Winner == conflict.SideLocal {
		if err := e.transport.PushResource(ctx, resourceFor(entity), json.RawMessage(res.Merged)); err != nil {
			e.logger.Error("Failed to push conflict resolution to server", err,
				map[string]interface{}{"entity": entity})
		}
	}
}

// storeConflict persists a ConflictItem and notifies the host.
func (e *Engine) storeConflict(ctx context.Context, entity models.EntityType, local, remote []byte) {
	item := &models.ConflictItem{
		EntityType:    entity,
		LocalVersion:  local,
		RemoteVersion: remote,
	}
	if err := e.store.SaveConflict(ctx, item); err != nil {
		e.logger.Error("Failed to persist conflict item", err)
		return
	}
	if e.bus != nil {
		e.bus.Publish(events.TopicSyncConflict, item)
	}
}

func (e *Engine) publishSyncError(item *models.SyncOutboxItem, cause error) {
	if e.bus != nil {
		e.bus.Publish(events.TopicSyncError, map[string]interface{}{
			"opId":  item.ID.String(),
			"type":  string(item.Type),
			"error": cause.Error(),
		})
	}
}

// applyRecord writes a wire record into the local store with synced status.
func (e *Engine) applyRecord(ctx context.Context, entity models.EntityType, raw json.RawMessage) error {
	switch entity {
	case models.EntityLists:
		var list models.List
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		list.SyncStatus = models.SyncStatusSynced
		return e.store.PutList(ctx, &list)
	case models.EntityItems:
		var item models.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return err
		}
		item.SyncStatus = models.SyncStatusSynced
		return e.store.PutItem(ctx, &item)
	case models.EntityReviews:
		var review models.ReviewQueueItem
		if err := json.Unmarshal(raw, &review); err != nil {
			return err
		}
		review.SyncStatus = models.SyncStatusSynced
		return e.store.PutReviewItem(ctx, &review)
	case models.EntityStreak:
		var streak models.Streak
		if err := json.Unmarshal(raw, &streak); err != nil {
			return err
		}
		streak.ID = models.StreakID
		streak.SyncStatus = models.SyncStatusSynced
		return e.store.PutStreak(ctx, &streak)
	case models.EntitySettings:
		var settings models.Settings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return err
		}
		settings.SyncStatus = models.SyncStatusSynced
		return e.store.PutSettings(ctx, &settings)
	}
	return apperrors.New(apperrors.ErrInvalid, "unknown entity type: "+string(entity))
}

// entityForOp maps a mutation kind to its entity type.
func entityForOp(t models.OpType) models.EntityType {
	switch t {
	case models.OpAddList, models.OpUpdateList, models.OpDeleteList:
		return models.EntityLists
	case models.OpAddItem, models.OpUpdateItem, models.OpDeleteItem:
		return models.EntityItems
	case models.OpUpdateReview:
		return models.EntityReviews
	case models.OpUpdateStreak:
		return models.EntityStreak
	case models.OpUpdateSettings:
		return models.EntitySettings
	}
	return ""
}

func isDeleteOp(t models.OpType) bool {
	return t == models.OpDeleteList || t == models.OpDeleteItem
}

// resourceFor maps an entity type to its sync endpoint resource.
func resourceFor(entity models.EntityType) string {
	return string(entity)
}

// recordID extracts the id field from a wire record.
func recordID(raw json.RawMessage) string {
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ""
	}
	return rec.ID
}
