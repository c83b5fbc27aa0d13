package store

// Engine-facing operations. These bypass the outbox: they apply state that
// is already known to the server (adopted remote records, merge results,
// reconciliation deletes), so recording them as pending mutations would
// echo server state back at the server.

import (
	"context"
	"database/sql"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/uuid"
)

// PutList upserts a list without touching the outbox.
func (s *Store) PutList(ctx context.Context, list *models.List) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lists (id, type, title, created_at, updated_at, user_id, sync_status, last_sync_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type = excluded.type, title = excluded.title,
		   created_at = excluded.created_at, updated_at = excluded.updated_at,
		   user_id = excluded.user_id, sync_status = excluded.sync_status,
		   last_sync_at = excluded.last_sync_at`,
		list.ID, string(list.Type), list.Title, list.CreatedAt, list.UpdatedAt,
		list.UserID, string(list.SyncStatus), list.LastSyncAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert list", err)
	}
	return nil
}

// PutItem upserts an item without touching the outbox.
func (s *Store) PutItem(ctx context.Context, item *models.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, list_id, payload, tags, created_at, updated_at, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   list_id = excluded.list_id, payload = excluded.payload, tags = excluded.tags,
		   created_at = excluded.created_at, updated_at = excluded.updated_at,
		   sync_status = excluded.sync_status`,
		item.ID, item.ListID, string(item.Payload), item.Tags,
		item.CreatedAt, item.UpdatedAt, string(item.SyncStatus),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert item", err)
	}
	return nil
}

// PutReviewItem upserts a review queue entry without touching the outbox.
func (s *Store) PutReviewItem(ctx context.Context, review *models.ReviewQueueItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_queue (id, item_id, due_at, difficulty, stability, retrievability,
		                           lapses, reps, interval, history, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   item_id = excluded.item_id, due_at = excluded.due_at,
		   difficulty = excluded.difficulty, stability = excluded.stability,
		   retrievability = excluded.retrievability, lapses = excluded.lapses,
		   reps = excluded.reps, interval = excluded.interval,
		   history = excluded.history, sync_status = excluded.sync_status`,
		review.ID, review.ItemID, review.DueAt, review.Difficulty, review.Stability,
		review.Retrievability, review.Lapses, review.Reps, review.Interval,
		review.HistoryJSON(), string(review.SyncStatus),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert review entry", err)
	}
	return nil
}

// PutStreak upserts the streak record without touching the outbox.
func (s *Store) PutStreak(ctx context.Context, streak *models.Streak) error {
	streak.Normalize()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streak (id, current, best, last_active_at, started_at, daily_history, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current = excluded.current, best = excluded.best,
		   last_active_at = excluded.last_active_at, started_at = excluded.started_at,
		   daily_history = excluded.daily_history, sync_status = excluded.sync_status`,
		models.StreakID, streak.Current, streak.Best, streak.LastActiveAt,
		streak.StartedAt, streak.DailyHistory, string(streak.SyncStatus),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to upsert streak", err)
	}
	return nil
}

// PutSettings upserts a settings record without touching the outbox.
func (s *Store) PutSettings(ctx context.Context, settings *models.Settings) error {
	_, err := s.db.ExecContext(ctx,
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
	return nil
}

// DeleteList removes a list during reconciliation. Items referencing it
// become orphans and are cleaned up by DeleteOrphanItems.
func (s *Store) DeleteList(ctx context.Context, id models.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete list", err)
	}
	return nil
}

// DeleteItem removes an item and its review queue entries.
func (s *Store) DeleteItem(ctx context.Context, id models.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM items WHERE id = ?`, id); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to delete item", err)
		}
		if _, err := tx.Exec(`DELETE FROM review_queue WHERE item_id = ?`, id); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to delete review entries", err)
		}
		return nil
	})
}

// DeleteOrphanItems removes items whose list no longer exists, and review
// entries whose item no longer exists. Orphans are tolerated transiently;
// this is the opportunistic cleanup run during reconciliation.
func (s *Store) DeleteOrphanItems(ctx context.Context) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`DELETE FROM items WHERE list_id NOT IN (SELECT id FROM lists)`)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to delete orphan items", err)
		}
		n, _ := res.RowsAffected()
		removed = int(n)

		if _, err := tx.Exec(
			`DELETE FROM review_queue WHERE item_id NOT IN (SELECT id FROM items)`); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to delete orphan review entries", err)
		}
		return nil
	})
	return removed, err
}

// MarkSynced flips a record's sync_status to synced after a successful push.
func (s *Store) MarkSynced(ctx context.Context, entity models.EntityType, id string) error {
	var query string
	switch entity {
	case models.EntityLists:
		query = `UPDATE lists SET sync_status = 'synced', last_sync_at = ? WHERE id = ?`
	case models.EntityItems:
		query = `UPDATE items SET sync_status = 'synced' WHERE id = ?`
	case models.EntityReviews:
		query = `UPDATE review_queue SET sync_status = 'synced' WHERE id = ?`
	case models.EntityStreak:
		query = `UPDATE streak SET sync_status = 'synced' WHERE id = ?`
	case models.EntitySettings:
		query = `UPDATE settings SET sync_status = 'synced' WHERE id = ?`
	default:
		return apperrors.New(apperrors.ErrInvalid, "unknown entity type: "+string(entity))
	}

	var err error
	if entity == models.EntityLists {
		_, err = s.db.ExecContext(ctx, query, models.NowMillis(), id)
	} else {
		_, err = s.db.ExecContext(ctx, query, id)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to mark record synced", err)
	}
	return nil
}

// =====================================================
// Outbox access
// =====================================================

// PendingOutbox returns all outbox entries in creation (FIFO) order.
func (s *Store) PendingOutbox(ctx context.Context) ([]models.SyncOutboxItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op_type, payload, created_at, attempts, last_attempt_at, error
		 FROM sync_outbox ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list outbox", err)
	}
	defer rows.Close()

	var out []models.SyncOutboxItem
	for rows.Next() {
		var item models.SyncOutboxItem
		var opType, payload string
		if err := rows.Scan(&item.ID, &opType, &payload, &item.CreatedAt,
			&item.Attempts, &item.LastAttemptAt, &item.Error); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan outbox entry", err)
		}
		item.Type = models.OpType(opType)
		item.Payload = []byte(payload)
		out = append(out, item)
	}
	return out, rows.Err()
}

// OutboxCount returns the number of pending outbox entries.
func (s *Store) OutboxCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox`).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count outbox", err)
	}
	return count, nil
}

// RecordOutboxFailure increments the attempt counter and stores the error.
func (s *Store) RecordOutboxFailure(ctx context.Context, id models.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_outbox SET attempts = attempts + 1, last_attempt_at = ?, error = ? WHERE id = ?`,
		models.NowMillis(), errMsg, id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to record outbox failure", err)
	}
	return nil
}

// RemoveOutbox deletes an outbox entry once it reached a terminal state.
func (s *Store) RemoveOutbox(ctx context.Context, id models.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_outbox WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove outbox entry", err)
	}
	return nil
}

// =====================================================
// Conflict items
// =====================================================

// SaveConflict persists a local/remote pair awaiting external resolution.
func (s *Store) SaveConflict(ctx context.Context, conflict *models.ConflictItem) error {
	if conflict.ID == "" {
		conflict.ID = models.UUID(uuid.New())
	}
	if conflict.DetectedAt == 0 {
		conflict.DetectedAt = models.NowMillis()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, entity_type, local_json, remote_json, resolution, resolved_at, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conflict.ID, string(conflict.EntityType), string(conflict.LocalVersion),
		string(conflict.RemoteVersion), conflict.Resolution, conflict.ResolvedAt, conflict.DetectedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save conflict", err)
	}
	return nil
}

// ListConflicts returns unresolved conflict items for the UI host.
func (s *Store) ListConflicts(ctx context.Context) ([]models.ConflictItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_type, local_json, remote_json, resolution, resolved_at, detected_at
		 FROM conflicts WHERE resolved_at = 0 ORDER BY detected_at ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list conflicts", err)
	}
	defer rows.Close()

	var conflicts []models.ConflictItem
	for rows.Next() {
		var c models.ConflictItem
		var entityType, local, remote string
		if err := rows.Scan(&c.ID, &entityType, &local, &remote,
			&c.Resolution, &c.ResolvedAt, &c.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan conflict", err)
		}
		c.EntityType = models.EntityType(entityType)
		c.LocalVersion = []byte(local)
		c.RemoteVersion = []byte(remote)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks a conflict resolved with the given outcome.
func (s *Store) ResolveConflict(ctx context.Context, id models.UUID, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET resolution = ?, resolved_at = ? WHERE id = ?`,
		resolution, models.NowMillis(), id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to resolve conflict", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "conflict not found: "+id.String())
	}
	return nil
}
