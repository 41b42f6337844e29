// Package db provides repository interfaces for the durable store.
package db

import (
	"context"

	"github.com/kimhsiao/cutlog/internal/models"
)

// ProfileRepository defines operations for profile persistence.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	ListProfilesByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error
	UpsertProfiles(ctx context.Context, profiles []*models.Profile) error
	DeleteProfile(ctx context.Context, id string) error
	RenameProfileID(ctx context.Context, oldID, newID string) error
	AdjustRecordCount(ctx context.Context, profileID string, delta int) error
}

// RecordRepository defines operations for record persistence.
type RecordRepository interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListRecords(ctx context.Context) ([]*models.Record, error)
	ListRecordsByProfile(ctx context.Context, profileID string) ([]*models.Record, error)
	ListRecordsByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.Record, error)
	UpsertRecord(ctx context.Context, rec *models.Record) error
	UpsertRecords(ctx context.Context, records []*models.Record) error
	DeleteRecord(ctx context.Context, id string) error
	RenameRecordID(ctx context.Context, oldID, newID string) error
	DeleteRecordsByProfile(ctx context.Context, profileID string) (int64, error)
	ReparentRecords(ctx context.Context, oldProfileID, newProfileID string) (int64, error)
}

// OperationRepository defines operations for the pending operation table.
type OperationRepository interface {
	InsertOperation(ctx context.Context, op *models.PendingOperation) error
	ListOperations(ctx context.Context) ([]*models.PendingOperation, error)
	ListOperationsForEntity(ctx context.Context, entityID string) ([]*models.PendingOperation, error)
	GetOperation(ctx context.Context, seq int64) (*models.PendingOperation, error)
	UpdateOperation(ctx context.Context, op *models.PendingOperation) error
	DeleteOperation(ctx context.Context, seq int64) error
	DeleteOperationsForEntity(ctx context.Context, entityID string) (int64, error)
	DeleteOperationsForParent(ctx context.Context, parentID string) (int64, error)
	RemapOperationIDs(ctx context.Context, oldID, newID string) (int64, error)
	CountOperations(ctx context.Context, status models.OperationStatus) (int, error)
}

// MetadataRepository defines operations for the sync metadata table.
type MetadataRepository interface {
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string, updatedAt int64) error
}

// Store combines every repository consumed by the cache, the queue and the
// sync engine, plus transactions spanning them.
type Store interface {
	ProfileRepository
	RecordRepository
	OperationRepository
	MetadataRepository

	// WithTx runs fn inside a single transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ ProfileRepository   = (*Repository)(nil)
	_ RecordRepository    = (*Repository)(nil)
	_ OperationRepository = (*Repository)(nil)
	_ MetadataRepository  = (*Repository)(nil)
	_ Store               = (*Repository)(nil)
)
