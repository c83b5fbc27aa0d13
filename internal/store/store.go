// Package store provides the durable, transactional local store backing the
// offline sync core. Each entity type lives in its own indexed collection;
// every mutating operation appends exactly one outbox row in the same
// transaction as the data write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/HelyeFab/moshimoshi-sub008/internal/db"
	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/uuid"
)

// DefaultDueLimit caps GetDueItems when the caller passes no limit.
const DefaultDueLimit = 50

// Store provides transactional access to the six local collections.
// It is single-writer-per-transaction by construction: the underlying
// SQLite connection pool holds one writer connection.
type Store struct {
	db     *db.DB
	bus    *events.Bus
	logger *logging.Logger
}

// New creates a Store on an opened database with the schema applied.
// bus may be nil when no host is listening.
func New(database *db.DB, bus *events.Bus, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Get()
	}
	return &Store{
		db:     database,
		bus:    bus,
		logger: logger,
	}
}

// withTx runs fn inside a transaction. Any error rolls the whole
// transaction back so partial writes are never observable.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransaction, "failed to begin transaction", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrTransaction, "failed to commit transaction", err)
	}
	return nil
}

// appendOutbox records one pending mutation inside the caller's transaction.
// This is the durability guarantee: the data write and its outbox entry
// commit or roll back together.
func (s *Store) appendOutbox(tx *sql.Tx, opType models.OpType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode outbox payload", err)
	}

	_, err = tx.Exec(
		`INSERT INTO sync_outbox (id, op_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New(), string(opType), string(data), models.NowMillis(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to append outbox entry", err)
	}
	return nil
}

// notifyDueCountChanged emits the generic badge-refresh hint.
func (s *Store) notifyDueCountChanged() {
	if s.bus != nil {
		s.bus.Publish(events.TopicDueCountChanged, nil)
	}
}

// ClearAllData wipes every collection transactionally. Used only by
// account cleanup.
func (s *Store) ClearAllData(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"lists", "items", "review_queue", "streak", "settings", "sync_outbox", "conflicts",
		} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "failed to clear "+table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Local store cleared")
	s.notifyDueCountChanged()
	return nil
}
