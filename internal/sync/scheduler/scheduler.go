// Package scheduler runs sync passes in the background.
//
// Passes are requested through a single-slot trigger: while a pass runs, at
// most one further request is remembered and every other request coalesces
// into it. One worker goroutine executes the passes, so the scheduler never
// runs two passes at once.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	syncInterval time.Duration
	passTimeout  time.Duration

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
	lastErr      error
	// work counts buffered and running passes; idle is closed while it is zero.
	work int
	idle chan struct{}
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync when online (default: 15 minutes)
	PassTimeout  time.Duration // Deadline of a background pass, 0 for none (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 15 * time.Minute,
		PassTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		passTimeout:  config.PassTimeout,
		trigger:      make(chan struct{}, 1),
		isOnline:     true, // Assume online initially
		idle:         idle,
	}
}

// Start starts the worker and the periodic ticker. A trigger buffered before
// Start runs as soon as the worker starts.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.worker(ctx, stopCh)
	go s.periodicSyncLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval": s.syncInterval.String(),
	})
}

// Stop stops the scheduler and waits for a running pass to return. A
// buffered trigger is dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	select {
	case <-s.trigger:
		s.doneWork()
	default:
	}

	logging.Info("Background sync scheduler stopped")
}

// Trigger requests a pass without blocking. It returns false when a request
// is already buffered and this one coalesced into it.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.trigger <- struct{}{}:
		if s.work == 0 {
			s.idle = make(chan struct{})
		}
		s.work++
		return true
	default:
		return false
	}
}

func (s *Scheduler) doneWork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.work--
	if s.work == 0 {
		close(s.idle)
	}
}

// WaitIdle blocks until no pass is buffered or running, or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.RLock()
	idle := s.idle
	s.mu.RUnlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOnlineStatus changes the online status of the scheduler. Offline
// requests are consumed without running a pass; coming back online triggers one.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	if isOnline {
		s.Trigger()
	}
}

func (s *Scheduler) worker(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.halt(stopCh)
			return
		case <-stopCh:
			return
		case <-s.trigger:
			s.runSync(ctx)
			s.doneWork()
		}
	}
}

// halt stops the scheduler after its context ended: the ticker loop exits
// and a buffered trigger is dropped so WaitIdle returns.
func (s *Scheduler) halt(stopCh <-chan struct{}) {
	s.mu.Lock()
	if s.isRunning && s.stopCh == stopCh {
		s.isRunning = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	select {
	case <-s.trigger:
		s.doneWork()
	default:
	}

	logging.Info("Background sync scheduler stopped", map[string]interface{}{
		"reason": "context done",
	})
}

// periodicSyncLoop requests a pass every interval while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if !s.Trigger() {
				logging.Debug("Sync already requested, skipping tick")
			}
		}
	}
}

// runSync executes one background pass.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - scheduler is offline")
		return
	}

	syncCtx := ctx
	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	_, err := s.engine.Sync(syncCtx)
	if errors.Is(err, errors.ErrSyncInProgress) {
		logging.Debug("Sync already in progress, skipping")
		return
	}
	s.record(err)
	if err != nil {
		logging.Warn("Background sync failed", map[string]interface{}{
			"error": err.Error(),
			"code":  string(errors.CodeOf(err)),
		})
	}
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err == nil {
		s.lastSyncTime = time.Now()
	}
}

// SyncNow runs a pass on the calling goroutine and returns its result. It
// fails with SYNC_IN_PROGRESS when a background pass is running.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	result, err := s.engine.Sync(ctx)
	if errors.Is(err, errors.ErrSyncInProgress) {
		return nil, err
	}
	s.record(err)
	return result, err
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	EngineStatus   syncpkg.SyncStatus `json:"engine_status"`
	PendingChanges int                `json:"pending_changes"`
	Busy           bool               `json:"busy"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning: s.isRunning,
		IsOnline:  s.isOnline,
		Busy:      s.work > 0,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	status.EngineStatus = s.engine.Status()
	status.PendingChanges = s.engine.PendingChanges()
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
