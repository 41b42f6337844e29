package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// =====================================================
// Pending Operation Operations
// =====================================================

const operationColumns = `seq, op_kind, entity_kind, entity_id, parent_id, payload, retry_count,
	max_retries, next_retry_at, status, last_error, created_at, updated_at`

func scanOperation(row rowScanner) (*models.PendingOperation, error) {
	var op models.PendingOperation
	var payload string
	err := row.Scan(&op.Seq, &op.Kind, &op.Entity, &op.EntityID, &op.ParentID, &payload,
		&op.RetryCount, &op.MaxRetries, &op.NextRetryAt, &op.Status, &op.LastError,
		&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueue, "decode payload of "+op.String(), err)
	}
	return &op, nil
}

// InsertOperation appends an operation and sets its Seq.
func (r *Repository) InsertOperation(ctx context.Context, op *models.PendingOperation) error {
	payload, err := encodeJSON(op.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "encode payload", err)
	}

	query := `
	INSERT INTO pending_operations (op_kind, entity_kind, entity_id, parent_id, payload,
		retry_count, max_retries, next_retry_at, status, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.exec(ctx, query, string(op.Kind), string(op.Entity), op.EntityID, op.ParentID,
		payload, op.RetryCount, op.MaxRetries, op.NextRetryAt, string(op.Status), op.LastError,
		op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert operation", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert operation", err)
	}
	op.Seq = seq
	return nil
}

func (r *Repository) listOperations(ctx context.Context, query string, args ...interface{}) ([]*models.PendingOperation, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list operations", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan operation", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list operations", err)
	}
	return ops, nil
}

// ListOperations returns every queued operation in enqueue order.
// The autoincrement seq is the enqueue order; created_at has second resolution.
func (r *Repository) ListOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return r.listOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations ORDER BY seq`)
}

// ListOperationsForEntity returns the operations targeting entityID in enqueue order.
func (r *Repository) ListOperationsForEntity(ctx context.Context, entityID string) ([]*models.PendingOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE entity_id = ? ORDER BY seq`
	return r.listOperations(ctx, query, entityID)
}

// GetOperation retrieves an operation by sequence id.
func (r *Repository) GetOperation(ctx context.Context, seq int64) (*models.PendingOperation, error) {
	row := r.queryRow(ctx, `SELECT `+operationColumns+` FROM pending_operations WHERE seq = ?`, seq)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, "operation not found", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "load operation", err)
	}
	return op, nil
}

// UpdateOperation persists retry bookkeeping and ids of an operation.
func (r *Repository) UpdateOperation(ctx context.Context, op *models.PendingOperation) error {
	payload, err := encodeJSON(op.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "encode payload", err)
	}

	query := `
	UPDATE pending_operations
	SET entity_id = ?, parent_id = ?, payload = ?, retry_count = ?, max_retries = ?,
		next_retry_at = ?, status = ?, last_error = ?, updated_at = ?
	WHERE seq = ?
	`
	res, err := r.exec(ctx, query, op.EntityID, op.ParentID, payload, op.RetryCount, op.MaxRetries,
		op.NextRetryAt, string(op.Status), op.LastError, op.UpdatedAt, op.Seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "update operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "operation %d not found", op.Seq)
	}
	return nil
}

// DeleteOperation removes an operation. Deleting a missing operation is not an error.
func (r *Repository) DeleteOperation(ctx context.Context, seq int64) error {
	if _, err := r.exec(ctx, `DELETE FROM pending_operations WHERE seq = ?`, seq); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete operation", err)
	}
	return nil
}

// DeleteOperationsForEntity removes every operation targeting entityID.
func (r *Repository) DeleteOperationsForEntity(ctx context.Context, entityID string) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM pending_operations WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "delete operations of "+entityID, err)
	}
	return res.RowsAffected()
}

// DeleteOperationsForParent removes every child operation whose parent is parentID.
func (r *Repository) DeleteOperationsForParent(ctx context.Context, parentID string) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM pending_operations WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "delete child operations of "+parentID, err)
	}
	return res.RowsAffected()
}

// RemapOperationIDs rewrites entity and parent ids from oldID to newID.
func (r *Repository) RemapOperationIDs(ctx context.Context, oldID, newID string) (int64, error) {
	var total int64
	for _, query := range []string{
		`UPDATE pending_operations SET entity_id = ? WHERE entity_id = ?`,
		`UPDATE pending_operations SET parent_id = ? WHERE parent_id = ?`,
	} {
		res, err := r.exec(ctx, query, newID, oldID)
		if err != nil {
			return total, apperrors.Wrap(apperrors.ErrDatabase, "remap operations of "+oldID, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// CountOperations returns the number of operations with the given status.
// An empty status counts every operation.
func (r *Repository) CountOperations(ctx context.Context, status models.OperationStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = r.queryRow(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&count)
	} else {
		err = r.queryRow(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(status)).Scan(&count)
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count operations", err)
	}
	return count, nil
}

// =====================================================
// Sync Metadata Operations
// =====================================================

// GetMetadata returns the value stored under key and whether it exists.
func (r *Repository) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.queryRow(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "load metadata "+key, err)
	}
	return value, true, nil
}

// SetMetadata stores value under key.
func (r *Repository) SetMetadata(ctx context.Context, key, value string, updatedAt int64) error {
	query := `INSERT OR REPLACE INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)`
	if _, err := r.exec(ctx, query, key, value, updatedAt); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "store metadata "+key, err)
	}
	return nil
}
