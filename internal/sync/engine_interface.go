package sync

import (
	"context"
	"time"
)

// SyncEngineInterface defines the interface for sync engine operations.
// The scheduler and the CLI depend on it so tests can substitute a fake.
type SyncEngineInterface interface {
	// Sync performs one upload-then-download pass.
	Sync(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last successful sync.
	LastSync() *time.Time

	// PendingChanges returns the number of queued operations.
	PendingChanges() int

	// LastError returns the last error that occurred during sync.
	LastError() error
}

var _ SyncEngineInterface = (*Engine)(nil)
