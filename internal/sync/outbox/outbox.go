// Package outbox manages the durable queue of pending mutations awaiting
// transmission to the server, with exponential backoff and retry limits.
// Entries are appended by the local store inside the mutating transaction;
// this package owns their lifecycle from pending to terminal.
package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
)

const (
	// BaseDelay is the first retry delay.
	BaseDelay = 1 * time.Second
	// MaxDelay caps the exponential backoff.
	MaxDelay = 30 * time.Second
	// JitterFraction spreads retries across clients recovering together.
	JitterFraction = 0.2
	// MaxRetries is the attempt budget before an entry is dead-lettered.
	MaxRetries = 5
)

// Manager provides outbox lifecycle operations on top of the local store.
type Manager struct {
	store  *store.Store
	logger *logging.Logger
}

// NewManager creates a Manager.
func NewManager(st *store.Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Get()
	}
	return &Manager{store: st, logger: logger}
}

// Pending returns all outbox entries in FIFO (creation) order.
func (m *Manager) Pending(ctx context.Context) ([]models.SyncOutboxItem, error) {
	return m.store.PendingOutbox(ctx)
}

// Count returns the number of pending entries.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.OutboxCount(ctx)
}

// Complete removes an entry after a successful push.
func (m *Manager) Complete(ctx context.Context, item *models.SyncOutboxItem) error {
	if err := m.store.RemoveOutbox(ctx, item.ID); err != nil {
		return err
	}
	m.logger.Debug("Outbox entry completed",
		map[string]interface{}{"op_id": item.ID, "op_type": item.Type})
	return nil
}

// Fail records a retryable failure. Returns true when the entry exhausted
// its attempt budget and was dead-lettered instead of rescheduled.
func (m *Manager) Fail(ctx context.Context, item *models.SyncOutboxItem, cause error) (deadLettered bool, err error) {
	item.Attempts++
	item.LastAttemptAt = models.NowMillis()
	item.Error = cause.Error()

	if item.Attempts >= MaxRetries {
		if err := m.store.RemoveOutbox(ctx, item.ID); err != nil {
			return false, err
		}
		m.logger.Warn("Outbox entry dead-lettered after exhausting retries",
			map[string]interface{}{
				"op_id":    item.ID,
				"op_type":  item.Type,
				"attempts": item.Attempts,
				"error":    item.Error,
			})
		return true, nil
	}

	if err := m.store.RecordOutboxFailure(ctx, item.ID, item.Error); err != nil {
		return false, err
	}
	m.logger.Info("Outbox entry scheduled for retry",
		map[string]interface{}{
			"op_id":    item.ID,
			"op_type":  item.Type,
			"attempts": item.Attempts,
			"retry_in": Backoff(item.Attempts).String(),
		})
	return false, nil
}

// DeadLetter removes an entry after a non-retryable failure.
func (m *Manager) DeadLetter(ctx context.Context, item *models.SyncOutboxItem, cause error) error {
	if err := m.store.RemoveOutbox(ctx, item.ID); err != nil {
		return err
	}
	m.logger.Warn("Outbox entry dead-lettered",
		map[string]interface{}{
			"op_id":   item.ID,
			"op_type": item.Type,
			"error":   cause.Error(),
		})
	return nil
}

// Eligible reports whether an entry's backoff window has elapsed.
func Eligible(item *models.SyncOutboxItem, now time.Time) bool {
	if item.Attempts == 0 || item.LastAttemptAt == 0 {
		return true
	}
	next := models.MillisToTime(item.LastAttemptAt).Add(Backoff(item.Attempts))
	return !now.Before(next)
}

// Backoff returns the retry delay for the given attempt count:
// min(BaseDelay * 2^(attempt-1), MaxDelay) with +-20% jitter.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxDelay {
			delay = MaxDelay
			break
		}
	}

	jitter := 1 - JitterFraction + 2*JitterFraction*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
