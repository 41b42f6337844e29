package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// =====================================================
// Record Operations
// =====================================================

const recordColumns = `id, profile_id, created_by, occurred_at, stylist, location, notes,
	price_cents, duration_minutes, image_urls, created_at, updated_at, content_hash,
	sync_status, last_synced_at`

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var imageURLs string
	var lastSynced sql.NullInt64
	err := row.Scan(&rec.ID, &rec.ProfileID, &rec.CreatedBy, &rec.OccurredAt, &rec.Stylist,
		&rec.Location, &rec.Notes, &rec.PriceCents, &rec.DurationMinutes, &imageURLs,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ContentHash, &rec.SyncStatus, &lastSynced)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(imageURLs), &rec.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls of %s: %w", rec.ID, err)
	}
	rec.LastSyncedAt = int64Ptr(lastSynced)
	return &rec, nil
}

func (r *Repository) listRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list records", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list records", err)
	}
	return records, nil
}

// GetRecord retrieves a record by ID.
func (r *Repository) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	row := r.queryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, notFound(err, "record "+id)
	}
	return rec, nil
}

// ListRecords returns all cached records, most recent haircut first.
func (r *Repository) ListRecords(ctx context.Context) ([]*models.Record, error) {
	return r.listRecords(ctx, `SELECT `+recordColumns+` FROM records ORDER BY occurred_at DESC, id`)
}

// ListRecordsByProfile returns the records of one profile, most recent haircut first.
func (r *Repository) ListRecordsByProfile(ctx context.Context, profileID string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE profile_id = ? ORDER BY occurred_at DESC, id`
	return r.listRecords(ctx, query, profileID)
}

// ListRecordsByStatus returns records whose status is one of statuses.
func (r *Repository) ListRecordsByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	query := `SELECT ` + recordColumns + ` FROM records WHERE sync_status IN (` +
		placeholders(len(statuses)) + `) ORDER BY occurred_at DESC, id`
	return r.listRecords(ctx, query, args...)
}

// UpsertRecord inserts or replaces a record keyed by id.
func (r *Repository) UpsertRecord(ctx context.Context, rec *models.Record) error {
	imageURLs, err := encodeJSON(nonNilStrings(rec.ImageURLs))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "encode image urls", err)
	}

	query := `
	INSERT OR REPLACE INTO records (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec(ctx, query, rec.ID, rec.ProfileID, rec.CreatedBy, rec.OccurredAt, rec.Stylist,
		rec.Location, rec.Notes, rec.PriceCents, rec.DurationMinutes, imageURLs, rec.CreatedAt,
		rec.UpdatedAt, rec.ContentHash, string(rec.SyncStatus), nullInt64(rec.LastSyncedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "upsert record "+rec.ID, err)
	}
	return nil
}

// UpsertRecords upserts several records in one transaction.
func (r *Repository) UpsertRecords(ctx context.Context, records []*models.Record) error {
	return r.WithTx(ctx, func(tx Store) error {
		for _, rec := range records {
			if err := tx.UpsertRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRecord removes a record row. Deleting a missing row is not an error.
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete record "+id, err)
	}
	return nil
}

// DeleteRecordsByProfile removes every record of a profile and returns how many were removed.
func (r *Repository) DeleteRecordsByProfile(ctx context.Context, profileID string) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM records WHERE profile_id = ?`, profileID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "delete records of "+profileID, err)
	}
	return res.RowsAffected()
}

// RenameRecordID rewrites the primary key of a record. A row already stored
// under newID is replaced.
func (r *Repository) RenameRecordID(ctx context.Context, oldID, newID string) error {
	return r.renameID(ctx, "records", oldID, newID)
}

// ReparentRecords moves records from oldProfileID to newProfileID.
func (r *Repository) ReparentRecords(ctx context.Context, oldProfileID, newProfileID string) (int64, error) {
	res, err := r.exec(ctx, `UPDATE records SET profile_id = ? WHERE profile_id = ?`, newProfileID, oldProfileID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "reparent records of "+oldProfileID, err)
	}
	return res.RowsAffected()
}
