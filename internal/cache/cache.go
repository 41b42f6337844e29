// Package cache provides the cached entity store read and written by the
// application layer and reconciled by the sync engine.
//
// The cache holds Profiles (parents) and Records (children), each carrying a
// sync status. Callers set status and hash before upserting. The cache does
// not serialize access itself; the sync engine's pass lock and single-row
// upserts keep readers from seeing half-written rows.
package cache

import (
	"context"

	"github.com/kimhsiao/cutlog/internal/db"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// Store is the cached entity store.
type Store struct {
	repo db.Store
}

// New creates a cache over the durable store.
func New(repo db.Store) *Store {
	return &Store{repo: repo}
}

// With returns a cache bound to a transaction-scoped store.
func (s *Store) With(tx db.Store) *Store {
	return &Store{repo: tx}
}

// WithTx runs fn against a cache bound to a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(c *Store) error) error {
	return s.repo.WithTx(ctx, func(tx db.Store) error {
		return fn(s.With(tx))
	})
}

// =====================================================
// Profiles
// =====================================================

// GetProfile returns the cached profile, including PendingDelete rows.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

// ListProfiles returns every cached profile.
func (s *Store) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return s.repo.ListProfiles(ctx)
}

// VisibleProfiles returns the profiles shown to the user: PendingDelete rows
// and soft-deleted rows are excluded.
func (s *Store) VisibleProfiles(ctx context.Context) ([]*models.Profile, error) {
	all, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]*models.Profile, 0, len(all))
	for _, p := range all {
		if p.SyncStatus == models.SyncStatusPendingDelete || p.IsDeleted {
			continue
		}
		visible = append(visible, p)
	}
	return visible, nil
}

// ListPendingProfiles returns profiles whose status is not Synced.
func (s *Store) ListPendingProfiles(ctx context.Context) ([]*models.Profile, error) {
	return s.repo.ListProfilesByStatus(ctx, models.SyncStatusPendingUpload, models.SyncStatusPendingDelete)
}

// ProfileIndex returns every cached profile keyed by id.
func (s *Store) ProfileIndex(ctx context.Context) (map[string]*models.Profile, error) {
	all, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*models.Profile, len(all))
	for _, p := range all {
		index[p.ID] = p
	}
	return index, nil
}

// UpsertProfile inserts or replaces a profile keyed by id.
func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if !p.SyncStatus.Valid() {
		return apperrors.Newf(apperrors.ErrCache, "profile %s has invalid status %q", p.ID, p.SyncStatus)
	}
	return s.repo.UpsertProfile(ctx, p)
}

// UpsertProfiles writes several profiles in one transaction.
func (s *Store) UpsertProfiles(ctx context.Context, profiles []*models.Profile) error {
	for _, p := range profiles {
		if !p.SyncStatus.Valid() {
			return apperrors.Newf(apperrors.ErrCache, "profile %s has invalid status %q", p.ID, p.SyncStatus)
		}
	}
	return s.repo.UpsertProfiles(ctx, profiles)
}

// DeleteProfile removes a profile and every record referencing it.
// It returns the number of records removed.
func (s *Store) DeleteProfile(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := s.repo.WithTx(ctx, func(tx db.Store) error {
		n, err := tx.DeleteRecordsByProfile(ctx, id)
		if err != nil {
			return err
		}
		removed = n
		return tx.DeleteProfile(ctx, id)
	})
	return removed, err
}

// ReplaceProfileID rewrites a client-generated profile id to the server id
// and migrates the records referencing the old id.
func (s *Store) ReplaceProfileID(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return s.repo.WithTx(ctx, func(tx db.Store) error {
		if err := tx.RenameProfileID(ctx, oldID, newID); err != nil {
			return err
		}
		_, err := tx.ReparentRecords(ctx, oldID, newID)
		return err
	})
}

// AdjustRecordCount changes the denormalized record count of a profile.
func (s *Store) AdjustRecordCount(ctx context.Context, profileID string, delta int) error {
	return s.repo.AdjustRecordCount(ctx, profileID, delta)
}

// =====================================================
// Records
// =====================================================

// GetRecord returns the cached record, including PendingDelete rows.
func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// ListRecords returns the cached records of a profile, or all records when
// profileID is empty.
func (s *Store) ListRecords(ctx context.Context, profileID string) ([]*models.Record, error) {
	if profileID == "" {
		return s.repo.ListRecords(ctx)
	}
	return s.repo.ListRecordsByProfile(ctx, profileID)
}

// VisibleRecords is ListRecords without PendingDelete rows.
func (s *Store) VisibleRecords(ctx context.Context, profileID string) ([]*models.Record, error) {
	all, err := s.ListRecords(ctx, profileID)
	if err != nil {
		return nil, err
	}
	visible := make([]*models.Record, 0, len(all))
	for _, r := range all {
		if r.SyncStatus != models.SyncStatusPendingDelete {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// ListPendingRecords returns records whose status is not Synced.
func (s *Store) ListPendingRecords(ctx context.Context) ([]*models.Record, error) {
	return s.repo.ListRecordsByStatus(ctx, models.SyncStatusPendingUpload, models.SyncStatusPendingDelete)
}

// UpsertRecord inserts or replaces a record keyed by id.
func (s *Store) UpsertRecord(ctx context.Context, r *models.Record) error {
	if !r.SyncStatus.Valid() {
		return apperrors.Newf(apperrors.ErrCache, "record %s has invalid status %q", r.ID, r.SyncStatus)
	}
	return s.repo.UpsertRecord(ctx, r)
}

// UpsertRecords writes several records in one transaction.
func (s *Store) UpsertRecords(ctx context.Context, records []*models.Record) error {
	for _, r := range records {
		if !r.SyncStatus.Valid() {
			return apperrors.Newf(apperrors.ErrCache, "record %s has invalid status %q", r.ID, r.SyncStatus)
		}
	}
	return s.repo.UpsertRecords(ctx, records)
}

// DeleteRecord removes a record row.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	return s.repo.DeleteRecord(ctx, id)
}

// ReplaceRecordID rewrites a client-generated record id to the server id.
func (s *Store) ReplaceRecordID(ctx context.Context, oldID, newID string) error {
	return s.repo.RenameRecordID(ctx, oldID, newID)
}

// =====================================================
// Pending
// =====================================================

// Pending lists the entities carrying unacknowledged local changes.
type Pending struct {
	Profiles []*models.Profile
	Records  []*models.Record
}

// Len returns the number of pending entities.
func (p Pending) Len() int {
	return len(p.Profiles) + len(p.Records)
}

// ListPending returns every profile and record whose status is not Synced.
func (s *Store) ListPending(ctx context.Context) (Pending, error) {
	profiles, err := s.ListPendingProfiles(ctx)
	if err != nil {
		return Pending{}, err
	}
	records, err := s.ListPendingRecords(ctx)
	if err != nil {
		return Pending{}, err
	}
	return Pending{Profiles: profiles, Records: records}, nil
}
