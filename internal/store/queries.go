package store

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

// GetDueItems returns items whose review queue entry is due, ordered by
// due_at ascending, capped at limit (DefaultDueLimit when limit <= 0).
func (s *Store) GetDueItems(ctx context.Context, limit int) ([]models.Item, error) {
	if limit <= 0 {
		limit = DefaultDueLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.list_id, i.payload, i.tags, i.created_at, i.updated_at, i.sync_status
		 FROM review_queue rq
		 JOIN items i ON i.id = rq.item_id
		 WHERE rq.due_at <= ?
		 ORDER BY rq.due_at ASC
		 LIMIT ?`,
		models.NowMillis(), limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to query due items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetDueCount returns the number of due review queue entries. Backed by
// idx_review_due so it stays cheap enough for UI badges.
func (s *Store) GetDueCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE due_at <= ?`, models.NowMillis(),
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count due items", err)
	}
	return count, nil
}

// GetStreak returns the singleton streak record, zero-valued when unset.
func (s *Store) GetStreak(ctx context.Context) (*models.Streak, error) {
	streak := &models.Streak{ID: models.StreakID, SyncStatus: models.SyncStatusPending}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT current, best, last_active_at, started_at, daily_history, sync_status
		 FROM streak WHERE id = ?`, models.StreakID,
	).Scan(&streak.Current, &streak.Best, &streak.LastActiveAt,
		&streak.StartedAt, &streak.DailyHistory, &status)
	if err == sql.ErrNoRows {
		return streak, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to load streak", err)
	}
	streak.SyncStatus = models.SyncStatus(status)
	return streak, nil
}

// GetSettings returns the keyed settings record, empty when unset.
func (s *Store) GetSettings(ctx context.Context, id string) (*models.Settings, error) {
	if !models.ValidSettingsID(id) {
		return nil, apperrors.New(apperrors.ErrValidation, "unknown settings id: "+id)
	}

	settings := &models.Settings{
		ID:         id,
		Data:       json.RawMessage("{}"),
		SyncStatus: models.SyncStatusPending,
	}
	var data, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, updated_at, sync_status FROM settings WHERE id = ?`, id,
	).Scan(&data, &settings.UpdatedAt, &status)
	if err == sql.ErrNoRows {
		return settings, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to load settings", err)
	}
	settings.Data = json.RawMessage(data)
	settings.SyncStatus = models.SyncStatus(status)
	return settings, nil
}

// GetList returns a list by id, or ErrNotFound.
func (s *Store) GetList(ctx context.Context, id models.UUID) (*models.List, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, title, created_at, updated_at, user_id, sync_status, last_sync_at
		 FROM lists WHERE id = ?`, id)
	list, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "list not found: "+id.String())
	}
	return list, err
}

// ListLists returns every list.
func (s *Store) ListLists(ctx context.Context) ([]models.List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, created_at, updated_at, user_id, sync_status, last_sync_at
		 FROM lists ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list lists", err)
	}
	defer rows.Close()

	var lists []models.List
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *list)
	}
	return lists, rows.Err()
}

// ListItems returns every item, optionally filtered by list.
func (s *Store) ListItems(ctx context.Context, listID models.UUID) ([]models.Item, error) {
	query := `SELECT id, list_id, payload, tags, created_at, updated_at, sync_status
	          FROM items`
	args := []interface{}{}
	if listID != "" {
		query += ` WHERE list_id = ?`
		args = append(args, listID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListReviewQueue returns every review queue entry ordered by due time.
func (s *Store) ListReviewQueue(ctx context.Context) ([]models.ReviewQueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, due_at, difficulty, stability, retrievability,
		        lapses, reps, interval, history, sync_status
		 FROM review_queue ORDER BY due_at ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list review queue", err)
	}
	defer rows.Close()

	var reviews []models.ReviewQueueItem
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *review)
	}
	return reviews, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanList(sc scanner) (*models.List, error) {
	var list models.List
	var listType, status string
	if err := sc.Scan(&list.ID, &listType, &list.Title, &list.CreatedAt,
		&list.UpdatedAt, &list.UserID, &status, &list.LastSyncAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan list", err)
	}
	list.Type = models.ListType(listType)
	list.SyncStatus = models.SyncStatus(status)
	return &list, nil
}

func scanItem(sc scanner) (*models.Item, error) {
	var item models.Item
	var payload, status string
	if err := sc.Scan(&item.ID, &item.ListID, &payload, &item.Tags,
		&item.CreatedAt, &item.UpdatedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan item", err)
	}
	item.Payload = json.RawMessage(payload)
	item.SyncStatus = models.SyncStatus(status)
	return &item, nil
}

func scanReview(sc scanner) (*models.ReviewQueueItem, error) {
	var review models.ReviewQueueItem
	var history, status string
	if err := sc.Scan(&review.ID, &review.ItemID, &review.DueAt,
		&review.Difficulty, &review.Stability, &review.Retrievability,
		&review.Lapses, &review.Reps, &review.Interval, &history, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan review entry", err)
	}
	if history != "" && history != "[]" {
		if err := json.Unmarshal([]byte(history), &review.History); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt review history", err)
		}
	}
	review.SyncStatus = models.SyncStatus(status)
	return &review, nil
}
