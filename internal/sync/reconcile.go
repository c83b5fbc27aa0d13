package sync

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/conflict"
)

// SyncAllResult summarizes one two-way reconciliation pass.
type SyncAllResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	Adopted        int // remote records adopted locally
	Pushed         int // local records pushed to the server
	Merged         int // pairs resolved by a deterministic policy
	RemovedLocal   int // local records removed after a server-side delete
	Conflicts      int // pairs stored as ConflictItems
	OrphansRemoved int
}

// Total returns the number of state changes the pass produced. A second
// pass with no intervening mutations totals zero.
func (r *SyncAllResult) Total() int {
	return r.Adopted + r.Pushed + r.Merged + r.RemovedLocal + r.Conflicts + r.OrphansRemoved
}

// localRecord pairs a stored record with the sync metadata reconciliation
// compares on.
type localRecord struct {
	id         string
	updatedAt  int64
	syncStatus models.SyncStatus
	raw        json.RawMessage
}

// SyncAll pulls each remote collection and reconciles it against the local
// store. With mergeOnLogin=true (the post-authentication pass), local
// records missing remotely are uploaded rather than deleted, so a fresh
// login never destroys not-yet-uploaded local state.
func (e *Engine) SyncAll(ctx context.Context, mergeOnLogin bool) (*SyncAllResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInFlight, "reconciliation already in progress")
	}
	e.syncing = true
	e.status = SyncStatusSyncing
	e.mu.Unlock()

	result := &SyncAllResult{StartTime: time.Now()}
	var syncErr error

	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		e.mu.Lock()
		e.syncing = false
		if syncErr != nil {
			e.status = SyncStatusFailed
			e.lastErr = syncErr
		} else {
			e.status = SyncStatusIdle
			e.lastSync = &result.EndTime
		}
		e.mu.Unlock()
	}()

	for _, entity := range []models.EntityType{
		models.EntityLists, models.EntityItems, models.EntityReviews,
		models.EntityStreak, models.EntitySettings,
	} {
		if err := e.reconcileEntity(ctx, entity, mergeOnLogin, result); err != nil {
			syncErr = err
			return result, err
		}
	}

	// Remote list deletes may have stranded items; clean them up here
	// rather than failing hard on the broken weak references.
	orphans, err := e.store.DeleteOrphanItems(ctx)
	if err != nil {
		syncErr = err
		return result, err
	}
	result.OrphansRemoved = orphans

	e.logger.Info("Reconciliation completed",
		map[string]interface{}{
			"adopted":       result.Adopted,
			"pushed":        result.Pushed,
			"merged":        result.Merged,
			"removed_local": result.RemovedLocal,
			"conflicts":     result.Conflicts,
			"orphans":       result.OrphansRemoved,
			"merge_mode":    mergeOnLogin,
		})
	return result, nil
}

// reconcileEntity applies the comparison rules for one collection:
//   - remote-only record: adopt locally, mark synced
//   - local-only synced record: server-side delete (remove locally) unless
//     in merge mode, where it is pushed back instead
//   - both exist, local pending: resolve via the entity's conflict policy
//   - both exist, neither pending, remote newer: adopt remote
func (e *Engine) reconcileEntity(ctx context.Context, entity models.EntityType, mergeOnLogin bool, result *SyncAllResult) error {
	remote, err := e.transport.Pull(ctx, resourceFor(entity))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to pull "+string(entity), err)
	}

	remoteByID := make(map[string]json.RawMessage, len(remote))
	for _, raw := range remote {
		if id := recordID(raw); id != "" {
			remoteByID[id] = raw
		}
	}

	locals, err := e.localRecords(ctx, entity)
	if err != nil {
		return err
	}

	for _, local := range locals {
		remoteRaw, exists := remoteByID[local.id]
		delete(remoteByID, local.id)

		switch {
		case !exists && local.syncStatus == models.SyncStatusSynced:
			if mergeOnLogin {
				if err := e.transport.PushResource(ctx, resourceFor(entity), local.raw); err != nil {
					e.logger.Error("Failed to push local record during merge", err,
						map[string]interface{}{"entity": entity, "id": local.id})
					continue
				}
				result.Pushed++
			} else {
				if err := e.removeLocal(ctx, entity, local.id); err != nil {
					return err
				}
				result.RemovedLocal++
			}

		case !exists:
			// Pending local-only record: its outbox entry will carry it.

		case local.syncStatus == models.SyncStatusPending:
			res, err := e.resolver.Resolve(entity, local.raw, remoteRaw)
			if err != nil || res.Manual {
				e.storeConflict(ctx, entity, local.raw, remoteRaw)
				result.Conflicts++
				continue
			}
			if err := e.applyRecord(ctx, entity, res.Merged); err != nil {
				return err
			}
			if res.PushBoth || res.Winner == conflict.SideLocal {
				if err := e.transport.PushResource(ctx, resourceFor(entity), json.RawMessage(res.Merged)); err != nil {
					e.logger.Error("Failed to push resolution to server", err,
						map[string]interface{}{"entity": entity, "id": local.id})
				}
			}
			result.Merged++

		default:
			remoteTS := recordUpdatedAt(remoteRaw)
			if remoteTS > local.updatedAt {
				if err := e.applyRecord(ctx, entity, remoteRaw); err != nil {
					return err
				}
				result.Adopted++
			}
		}
	}

	// Remaining remote records have no local counterpart: adopt them.
	for _, raw := range remoteByID {
		if err := e.applyRecord(ctx, entity, raw); err != nil {
			return err
		}
		result.Adopted++
	}

	return nil
}

// localRecords loads one collection as comparable wire records.
func (e *Engine) localRecords(ctx context.Context, entity models.EntityType) ([]localRecord, error) {
	var records []localRecord
	add := func(id string, updatedAt int64, status models.SyncStatus, v interface{}) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		records = append(records, localRecord{id: id, updatedAt: updatedAt, syncStatus: status, raw: raw})
		return nil
	}

	switch entity {
	case models.EntityLists:
		lists, err := e.store.ListLists(ctx)
		if err != nil {
			return nil, err
		}
		for i := range lists {
			l := &lists[i]
			if err := add(l.ID.String(), l.UpdatedAt, l.SyncStatus, l); err != nil {
				return nil, err
			}
		}
	case models.EntityItems:
		items, err := e.store.ListItems(ctx, "")
		if err != nil {
			return nil, err
		}
		for i := range items {
			it := &items[i]
			if err := add(it.ID.String(), it.UpdatedAt, it.SyncStatus, it); err != nil {
				return nil, err
			}
		}
	case models.EntityReviews:
		reviews, err := e.store.ListReviewQueue(ctx)
		if err != nil {
			return nil, err
		}
		for i := range reviews {
			rv := &reviews[i]
			if err := add(rv.ID.String(), rv.DueAt, rv.SyncStatus, rv); err != nil {
				return nil, err
			}
		}
	case models.EntityStreak:
		streak, err := e.store.GetStreak(ctx)
		if err != nil {
			return nil, err
		}
		if streak.LastActiveAt > 0 || streak.Current > 0 || streak.Best > 0 {
			if err := add(streak.ID, streak.LastActiveAt, streak.SyncStatus, streak); err != nil {
				return nil, err
			}
		}
	case models.EntitySettings:
		for _, id := range []string{models.SettingsUI, models.SettingsNotifications, models.SettingsSync} {
			settings, err := e.store.GetSettings(ctx, id)
			if err != nil {
				return nil, err
			}
			if settings.UpdatedAt == 0 {
				continue
			}
			if err := add(settings.ID, settings.UpdatedAt, settings.SyncStatus, settings); err != nil {
				return nil, err
			}
		}
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, "unknown entity type: "+string(entity))
	}

	return records, nil
}

// removeLocal deletes one record during reconciliation.
func (e *Engine) removeLocal(ctx context.Context, entity models.EntityType, id string) error {
	switch entity {
	case models.EntityLists:
		return e.store.DeleteList(ctx, models.UUID(id))
	case models.EntityItems:
		return e.store.DeleteItem(ctx, models.UUID(id))
	case models.EntityReviews, models.EntityStreak, models.EntitySettings:
		// Singleton and scheduling records are only ever overwritten, not
		// deleted, by reconciliation.
		return nil
	}
	return apperrors.New(apperrors.ErrInvalid, "unknown entity type: "+string(entity))
}

// recordUpdatedAt extracts the wire record's logical write time.
func recordUpdatedAt(raw json.RawMessage) int64 {
	var rec struct {
		UpdatedAt    int64 `json:"updatedAt"`
		LastActiveAt int64 `json:"lastActiveAt"`
		DueAt        int64 `json:"dueAt"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0
	}
	ts := rec.UpdatedAt
	if rec.LastActiveAt > ts {
		ts = rec.LastActiveAt
	}
	if ts == 0 {
		ts = rec.DueAt
	}
	return ts
}

// PendingChanges returns the number of outbox entries awaiting drain.
func (e *Engine) PendingChanges(ctx context.Context) (int, error) {
	return e.outbox.Count(ctx)
}
