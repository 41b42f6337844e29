// Package db provides CRUD repository operations for the cached entities,
// the pending operation queue and sync metadata.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// Repository provides CRUD operations for all models.
// A Repository returned by WithTx is bound to that transaction.
type Repository struct {
	db *sql.DB
	tx *sql.Tx

	// Prepared statement cache for frequently used queries, keyed by query text.
	// Only used outside transactions: the pool has a single connection, so
	// preparing on the pool while a transaction holds it would block.
	stmtCache *xsync.MapOf[string, *sql.Stmt]
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:        db,
		stmtCache: xsync.NewMapOf[string, *sql.Stmt](),
	}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt, nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine stored one first, close our duplicate.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
	}
	return actual, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key string, stmt *sql.Stmt) bool {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	r.stmtCache.Clear()
	return firstErr
}

// WithTx runs fn against a Repository bound to a single transaction.
// The transaction commits if fn returns nil and rolls back otherwise.
// Calling WithTx on a transaction-bound Repository reuses the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", err)
	}
	bound := &Repository{db: r.db, tx: tx, stmtCache: r.stmtCache}

	if err := fn(bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit transaction", err)
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if r.tx != nil {
		return r.tx.ExecContext(ctx, query, args...)
	}
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if r.tx != nil {
		return r.tx.QueryContext(ctx, query, args...)
	}
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if r.tx != nil {
		return r.tx.QueryRowContext(ctx, query, args...)
	}
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		// Surface the prepare error through Scan.
		return r.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// notFound maps sql.ErrNoRows to a NOT_FOUND AppError.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(apperrors.ErrNotFound, what+" not found", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "load "+what, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// =====================================================
// Profile Operations
// =====================================================

const profileColumns = `id, owner_id, name, description, measurements, image_urls, record_count,
	created_at, updated_at, content_hash, is_deleted, sync_status, last_synced_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var measurements, imageURLs string
	var lastSynced sql.NullInt64
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &measurements, &imageURLs,
		&p.RecordCount, &p.CreatedAt, &p.UpdatedAt, &p.ContentHash, &p.IsDeleted,
		&p.SyncStatus, &lastSynced)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(measurements), &p.Measurements); err != nil {
		return nil, fmt.Errorf("decode measurements of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(imageURLs), &p.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls of %s: %w", p.ID, err)
	}
	p.LastSyncedAt = int64Ptr(lastSynced)
	return &p, nil
}

func (r *Repository) listProfiles(ctx context.Context, query string, args ...interface{}) ([]*models.Profile, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list profiles", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan profile", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list profiles", err)
	}
	return profiles, nil
}

// GetProfile retrieves a profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	row := r.queryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, notFound(err, "profile "+id)
	}
	return p, nil
}

// ListProfiles returns all cached profiles, oldest first.
func (r *Repository) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return r.listProfiles(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at, id`)
}

// ListProfilesByStatus returns profiles whose status is one of statuses.
func (r *Repository) ListProfilesByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.Profile, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE sync_status IN (` +
		placeholders(len(statuses)) + `) ORDER BY created_at, id`
	return r.listProfiles(ctx, query, args...)
}

// UpsertProfile inserts or replaces a profile keyed by id.
func (r *Repository) UpsertProfile(ctx context.Context, p *models.Profile) error {
	measurements, err := encodeJSON(nonNilMeasurements(p.Measurements))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "encode measurements", err)
	}
	imageURLs, err := encodeJSON(nonNilStrings(p.ImageURLs))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "encode image urls", err)
	}

	query := `
	INSERT OR REPLACE INTO profiles (` + profileColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec(ctx, query, p.ID, p.OwnerID, p.Name, p.Description, measurements, imageURLs,
		p.RecordCount, p.CreatedAt, p.UpdatedAt, p.ContentHash, p.IsDeleted, string(p.SyncStatus),
		nullInt64(p.LastSyncedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "upsert profile "+p.ID, err)
	}
	return nil
}

// UpsertProfiles upserts several profiles in one transaction.
func (r *Repository) UpsertProfiles(ctx context.Context, profiles []*models.Profile) error {
	return r.WithTx(ctx, func(tx Store) error {
		for _, p := range profiles {
			if err := tx.UpsertProfile(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteProfile removes a profile row. Deleting a missing row is not an error.
func (r *Repository) DeleteProfile(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete profile "+id, err)
	}
	return nil
}

// RenameProfileID rewrites the primary key of a profile. A row already stored
// under newID is replaced.
func (r *Repository) RenameProfileID(ctx context.Context, oldID, newID string) error {
	return r.renameID(ctx, "profiles", oldID, newID)
}

func (r *Repository) renameID(ctx context.Context, table, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return r.WithTx(ctx, func(tx Store) error {
		bound := tx.(*Repository)
		if _, err := bound.exec(ctx, `DELETE FROM `+table+` WHERE id = ?`, newID); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "rename "+oldID, err)
		}
		res, err := bound.exec(ctx, `UPDATE `+table+` SET id = ? WHERE id = ?`, newID, oldID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "rename "+oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", table, oldID)
		}
		return nil
	})
}

// AdjustRecordCount adds delta to the denormalized record count, never going below zero.
func (r *Repository) AdjustRecordCount(ctx context.Context, profileID string, delta int) error {
	query := `UPDATE profiles SET record_count = MAX(0, record_count + ?) WHERE id = ?`
	if _, err := r.exec(ctx, query, delta, profileID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "adjust record count of "+profileID, err)
	}
	return nil
}

func nonNilMeasurements(m []models.Measurement) []models.Measurement {
	if m == nil {
		return []models.Measurement{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
