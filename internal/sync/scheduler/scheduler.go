// Package scheduler runs the sync engine in the background: periodic
// full reconciliation while online, and a drain loop that keeps pushing
// the outbox whenever entries are pending.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/HelyeFab/moshimoshi-sub008/internal/errors"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	syncpkg "github.com/HelyeFab/moshimoshi-sub008/internal/sync"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine          *syncpkg.Engine
	logger          *logging.Logger
	syncInterval    time.Duration
	drainInterval   time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	lastSyncTime    time.Time
	syncInProgress  bool
	drainInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval  time.Duration // How often to reconcile when online (default: 15 minutes)
	DrainInterval time.Duration // How often to sweep the outbox (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		DrainInterval: 1 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine *syncpkg.Engine, logger *logging.Logger, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = logging.Get()
	}

	return &Scheduler{
		engine:        engine,
		logger:        logger,
		syncInterval:  config.SyncInterval,
		drainInterval: config.DrainInterval,
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online initially
	}
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.drainLoop(ctx)

	s.logger.Info("Background sync scheduler started", nil)
}

// Stop stops the scheduler gracefully, waiting for both loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status. While offline neither
// reconciliation nor outbox drains are attempted; coming back online
// triggers an immediate drain so queued work is not stuck waiting for
// the next tick.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	s.logger.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})

	if isOnline {
		go s.runDrain(ctx)
	}
}

// periodicSyncLoop runs full reconciliation on a timer while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}

			s.mu.RLock()
			busy := s.syncInProgress
			s.mu.RUnlock()
			if busy {
				s.logger.Debug("Reconciliation already in progress, skipping", nil)
				continue
			}

			go s.runSync(ctx)
		}
	}
}

// drainLoop sweeps the outbox on a timer. The engine's own backoff and
// circuit breaker gate the actual network attempts, so the sweep itself
// is cheap when nothing is eligible.
func (s *Scheduler) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			go s.runDrain(ctx)
		}
	}
}

// runSync executes one reconciliation pass.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		s.logger.Debug("Skipping reconciliation - scheduler is offline", nil)
		return
	}

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := s.engine.SyncAll(syncCtx, false)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInFlight) {
			return
		}
		s.logger.Error("Periodic reconciliation failed", err,
			map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("Periodic reconciliation completed",
		map[string]interface{}{
			"adopted":   result.Adopted,
			"merged":    result.Merged,
			"conflicts": result.Conflicts,
		})
}

// runDrain executes one outbox drain pass.
func (s *Scheduler) runDrain(ctx context.Context) {
	count, err := s.engine.PendingChanges(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending operations", err, nil)
		return
	}
	if count == 0 {
		return
	}

	s.mu.Lock()
	if s.drainInProgress {
		s.mu.Unlock()
		return
	}
	s.drainInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.drainInProgress = false
		s.mu.Unlock()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := s.engine.Drain(drainCtx); err != nil {
		s.logger.Error("Outbox drain failed", err,
			map[string]interface{}{"pending": count})
	}
}

// TriggerSync starts an immediate reconciliation pass. Returns false when
// one is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()

	if busy {
		return false
	}

	go s.runSync(ctx)
	return true
}

// SyncNow runs a reconciliation pass and waits for it to finish, for
// callers that need the result (login flows, manual sync buttons).
func (s *Scheduler) SyncNow(ctx context.Context, mergeOnLogin bool) (*syncpkg.SyncAllResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := s.engine.SyncAll(syncCtx, mergeOnLogin)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler's state.
type SchedulerStatus struct {
	IsRunning       bool
	IsOnline        bool
	LastSyncTime    *time.Time
	SyncInProgress  bool
	DrainInProgress bool
	PendingItems    int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		SyncInProgress:  s.syncInProgress,
		DrainInProgress: s.drainInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	if pending, err := s.engine.PendingChanges(ctx); err == nil {
		status.PendingItems = pending
	}
	return status
}

// IsOnline reports whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the scheduler loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
