package store

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/uuid"
)

// AddList creates a List with sync_status=pending and queues an addList
// outbox entry in the same transaction. Returns the generated id.
func (s *Store) AddList(ctx context.Context, title string, listType models.ListType) (models.UUID, error) {
	if title == "" {
		return "", apperrors.New(apperrors.ErrValidation, "list title must not be empty")
	}
	if !models.ValidListType(listType) {
		return "", apperrors.New(apperrors.ErrValidation, "unknown list type: "+string(listType))
	}

	now := models.NowMillis()
	list := &models.List{
		ID:         models.UUID(uuid.New()),
		Type:       listType,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO lists (id, type, title, created_at, updated_at, user_id, sync_status, last_sync_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			list.ID, string(list.Type), list.Title, list.CreatedAt, list.UpdatedAt,
			list.UserID, string(list.SyncStatus), list.LastSyncAt,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to insert list", err)
		}
		return s.appendOutbox(tx, models.OpAddList, list)
	})
	if err != nil {
		return "", err
	}

	s.notifyDueCountChanged()
	return list.ID, nil
}

// NewItem is the caller-supplied content for AddItems.
type NewItem struct {
	Payload json.RawMessage
	Tags    string
}

// AddItems creates one Item row and one immediately-due ReviewQueueItem per
// entry, in a single transaction spanning both collections, and queues one
// addItem outbox entry per item.
//
// listID is a weak reference: an unknown list is rejected here, but
// references broken later degrade gracefully during sync.
func (s *Store) AddItems(ctx context.Context, listID models.UUID, newItems []NewItem) error {
	if len(newItems) == 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM lists WHERE id = ?)`, listID).Scan(&exists); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to check list", err)
	}
	if !exists {
		return apperrors.New(apperrors.ErrValidation, "unknown list: "+listID.String())
	}

	now := models.NowMillis()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ni := range newItems {
			payload := ni.Payload
			if len(payload) == 0 {
				payload = json.RawMessage("{}")
			}
			item := &models.Item{
				ID:         models.UUID(uuid.New()),
				ListID:     listID,
				Payload:    payload,
				Tags:       ni.Tags,
				CreatedAt:  now,
				UpdatedAt:  now,
				SyncStatus: models.SyncStatusPending,
			}
			if _, err := tx.Exec(
				`INSERT INTO items (id, list_id, payload, tags, created_at, updated_at, sync_status)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				item.ID, item.ListID, string(item.Payload), item.Tags,
				item.CreatedAt, item.UpdatedAt, string(item.SyncStatus),
			); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "failed to insert item", err)
			}

			review := &models.ReviewQueueItem{
				ID:         models.UUID(uuid.New()),
				ItemID:     item.ID,
				DueAt:      now, // immediately due
				SyncStatus: models.SyncStatusPending,
			}
			if _, err := tx.Exec(
				`INSERT INTO review_queue (id, item_id, due_at, history, sync_status)
				 VALUES (?, ?, ?, ?, ?)`,
				review.ID, review.ItemID, review.DueAt, review.HistoryJSON(), string(review.SyncStatus),
			); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "failed to insert review queue entry", err)
			}

			if err := s.appendOutbox(tx, models.OpAddItem, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyDueCountChanged()
	return nil
}

// UpdateReview applies new spaced-repetition state to a review queue entry,
// re-stamps it pending and queues an updateReview outbox entry.
func (s *Store) UpdateReview(ctx context.Context, review *models.ReviewQueueItem) error {
	review.SyncStatus = models.SyncStatusPending

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE review_queue
			 SET due_at = ?, difficulty = ?, stability = ?, retrievability = ?,
			     lapses = ?, reps = ?, interval = ?, history = ?, sync_status = ?
			 WHERE id = ?`,
			review.DueAt, review.Difficulty, review.Stability, review.Retrievability,
			review.Lapses, review.Reps, review.Interval, review.HistoryJSON(),
			string(review.SyncStatus), review.ID,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to update review entry", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperrors.New(apperrors.ErrNotFound, "review entry not found: "+review.ID.String())
		}
		return s.appendOutbox(tx, models.OpUpdateReview, review)
	})
	if err != nil {
		return err
	}

	s.notifyDueCountChanged()
	return nil
}

// UpdateStreak performs a read-modify-write on the singleton streak record,
// re-stamping sync_status=pending and appending an updateStreak outbox entry.
func (s *Store) UpdateStreak(ctx context.Context, patch models.StreakPatch) (*models.Streak, error) {
	streak, err := s.GetStreak(ctx)
	if err != nil {
		return nil, err
	}

	patch.Apply(streak)
	streak.SyncStatus = models.SyncStatusPending

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO streak (id, current, best, last_active_at, started_at, daily_history, sync_status)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   current = excluded.current, best = excluded.best,
			   last_active_at = excluded.last_active_at, started_at = excluded.started_at,
			   daily_history = excluded.daily_history, sync_status = excluded.sync_status`,
			streak.ID, streak.Current, streak.Best, streak.LastActiveAt,
			streak.StartedAt, streak.DailyHistory, string(streak.SyncStatus),
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert streak", err)
		}
		return s.appendOutbox(tx, models.OpUpdateStreak, streak)
	})
	if err != nil {
		return nil, err
	}

	s.notifyDueCountChanged()
	return streak, nil
}

// UpdateSettings shallow-merges fields into the keyed settings record,
// re-stamping sync_status=pending and appending an updateSettings entry.
func (s *Store) UpdateSettings(ctx context.Context, id string, fields map[string]interface{}) (*models.Settings, error) {
	if !models.ValidSettingsID(id) {
		return nil, apperrors.New(apperrors.ErrValidation, "unknown settings id: "+id)
	}

	settings, err := s.GetSettings(ctx, id)
	if err != nil {
		return nil, err
	}

	merged, err := settings.Fields()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt settings data", err)
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode settings", err)
	}

	settings.Data = data
	settings.UpdatedAt = models.NowMillis()
	settings.SyncStatus = models.SyncStatusPending

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO settings (id, data, updated_at, sync_status)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   data = excluded.data, updated_at = excluded.updated_at,
			   sync_status = excluded.sync_status`,
			settings.ID, string(settings.Data), settings.UpdatedAt, string(settings.SyncStatus),
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert settings", err)
		}
		return s.appendOutbox(tx, models.OpUpdateSettings, settings)
	})
	if err != nil {
		return nil, err
	}

	s.notifyDueCountChanged()
	return settings, nil
}
