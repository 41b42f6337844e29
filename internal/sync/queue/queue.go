// Package queue provides the durable pending operation queue.
//
// Operations are replayed in enqueue order. A failed operation stays in place
// with exponential backoff; after MaxRetries failures, or on a permanent
// rejection, it is dead-lettered and kept for inspection.
package queue

import (
	"context"
	"time"

	"github.com/kimhsiao/cutlog/internal/db"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/models"
)

// Policy controls retries of failed operations.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  8,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
	}
}

// Backoff returns the delay before attempt retryCount+1.
// Formula: base * 2^(retryCount-1), capped at MaxBackoff.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	backoff := p.BaseBackoff
	for i := 1; i < retryCount; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// Stats counts queued operations by status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

// Queue is the pending operation queue backed by the durable store.
type Queue struct {
	store  db.Store
	policy Policy
	now    func() time.Time
}

// New creates a Queue.
func New(store db.Store, policy Policy) *Queue {
	return &Queue{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// With returns a queue bound to a transaction-scoped store.
func (q *Queue) With(tx db.Store) *Queue {
	return &Queue{store: tx, policy: q.policy, now: q.now}
}

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Policy returns the retry policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue validates, timestamps and appends op. op.Seq is set on return.
func (q *Queue) Enqueue(ctx context.Context, op *models.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	now := q.now().Unix()
	op.Status = models.OperationStatusPending
	op.RetryCount = 0
	op.MaxRetries = q.policy.MaxRetries
	op.NextRetryAt = now
	op.LastError = ""
	op.CreatedAt = now
	op.UpdatedAt = now

	if err := q.store.InsertOperation(ctx, op); err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "enqueue "+op.String(), err)
	}

	logging.Debug("Enqueued operation", map[string]interface{}{
		"seq":       op.Seq,
		"op":        op.Kind,
		"entity":    op.Entity,
		"entity_id": op.EntityID,
	})
	return nil
}

// ListAll returns every queued operation in FIFO order, dead ones included.
func (q *Queue) ListAll(ctx context.Context) ([]*models.PendingOperation, error) {
	return q.store.ListOperations(ctx)
}

// Ready returns the operations that may be dispatched now, in FIFO order.
func (q *Queue) Ready(ctx context.Context) ([]*models.PendingOperation, error) {
	all, err := q.store.ListOperations(ctx)
	if err != nil {
		return nil, err
	}
	now := q.now()
	var ready []*models.PendingOperation
	for _, op := range all {
		if op.Ready(now) {
			ready = append(ready, op)
		}
	}
	return ready, nil
}

// ListDead returns the dead-lettered operations in FIFO order.
func (q *Queue) ListDead(ctx context.Context) ([]*models.PendingOperation, error) {
	all, err := q.store.ListOperations(ctx)
	if err != nil {
		return nil, err
	}
	var dead []*models.PendingOperation
	for _, op := range all {
		if op.Status == models.OperationStatusDead {
			dead = append(dead, op)
		}
	}
	return dead, nil
}

// ForEntity returns the operations queued for entityID in FIFO order.
func (q *Queue) ForEntity(ctx context.Context, entityID string) ([]*models.PendingOperation, error) {
	return q.store.ListOperationsForEntity(ctx, entityID)
}

// HasQueued reports whether any operation, pending or dead, targets entityID.
func (q *Queue) HasQueued(ctx context.Context, entityID string) (bool, error) {
	ops, err := q.store.ListOperationsForEntity(ctx, entityID)
	if err != nil {
		return false, err
	}
	return len(ops) > 0, nil
}

// Remove deletes an acknowledged operation.
func (q *Queue) Remove(ctx context.Context, seq int64) error {
	return q.store.DeleteOperation(ctx, seq)
}

// Update persists op, typically after changing its payload or ids.
func (q *Queue) Update(ctx context.Context, op *models.PendingOperation) error {
	op.UpdatedAt = q.now().Unix()
	return q.store.UpdateOperation(ctx, op)
}

// MarkFailed records a failed dispatch of op. The retry count grows and the
// next attempt is pushed back; the operation keeps its position in the queue.
// It returns true when the operation was dead-lettered.
func (q *Queue) MarkFailed(ctx context.Context, op *models.PendingOperation, cause error, permanent bool) (bool, error) {
	now := q.now()
	op.RetryCount++
	op.UpdatedAt = now.Unix()
	if cause != nil {
		op.LastError = cause.Error()
	}

	maxRetries := op.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.policy.MaxRetries
	}

	dead := permanent || (maxRetries > 0 && op.RetryCount >= maxRetries)
	if dead {
		op.Status = models.OperationStatusDead
		logging.ErrorWithCode("Operation dead-lettered", string(apperrors.ErrSyncFailed), cause, map[string]interface{}{
			"seq":         op.Seq,
			"op":          op.Kind,
			"entity_id":   op.EntityID,
			"retry_count": op.RetryCount,
			"permanent":   permanent,
		})
	} else {
		backoff := q.policy.Backoff(op.RetryCount)
		op.NextRetryAt = now.Add(backoff).Unix()
		logging.Warn("Operation failed, will retry", map[string]interface{}{
			"seq":         op.Seq,
			"op":          op.Kind,
			"entity_id":   op.EntityID,
			"retry_count": op.RetryCount,
			"backoff":     backoff.String(),
			"error":       op.LastError,
		})
	}

	if err := q.store.UpdateOperation(ctx, op); err != nil {
		return dead, apperrors.Wrap(apperrors.ErrQueue, "persist failure of "+op.String(), err)
	}
	return dead, nil
}

// RemapEntity rewrites entity and parent ids of queued operations after the
// server assigned newID to the entity created as oldID.
func (q *Queue) RemapEntity(ctx context.Context, oldID, newID string) (int64, error) {
	if oldID == newID {
		return 0, nil
	}
	return q.store.RemapOperationIDs(ctx, oldID, newID)
}

// Cancel removes every operation targeting entityID without dispatching it.
func (q *Queue) Cancel(ctx context.Context, entityID string) (int64, error) {
	return q.store.DeleteOperationsForEntity(ctx, entityID)
}

// CancelChildren removes every record operation under parentID.
func (q *Queue) CancelChildren(ctx context.Context, parentID string) (int64, error) {
	return q.store.DeleteOperationsForParent(ctx, parentID)
}

// RetryDead resets dead-lettered operations so the next pass dispatches them.
func (q *Queue) RetryDead(ctx context.Context) (int, error) {
	dead, err := q.ListDead(ctx)
	if err != nil {
		return 0, err
	}

	now := q.now().Unix()
	err = q.store.WithTx(ctx, func(tx db.Store) error {
		for _, op := range dead {
			op.Status = models.OperationStatusPending
			op.RetryCount = 0
			op.NextRetryAt = now
			op.LastError = ""
			op.UpdatedAt = now
			if err := tx.UpdateOperation(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(dead) > 0 {
		logging.Info("Reset dead operations for retry", map[string]interface{}{"count": len(dead)})
	}
	return len(dead), nil
}

// Size returns the number of queued operations.
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.store.CountOperations(ctx, "")
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	total, err := q.store.CountOperations(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	dead, err := q.store.CountOperations(ctx, models.OperationStatusDead)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: total, Pending: total - dead, Dead: dead}, nil
}
