package models

import (
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
)

// OperationKind is the mutation a pending operation replays.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// EntityKind is the table a pending operation targets.
type EntityKind string

const (
	EntityProfile EntityKind = "profile"
	EntityRecord  EntityKind = "record"
)

// OperationStatus is the queue state of a pending operation.
type OperationStatus string

const (
	// OperationStatusPending operations are replayed by sync passes.
	OperationStatusPending OperationStatus = "pending"
	// OperationStatusDead operations exhausted their retries or were rejected.
	OperationStatusDead OperationStatus = "dead"
)

// OperationPayload is a tagged union; exactly the variant matching the
// operation's EntityKind is set for creates and updates.
type OperationPayload struct {
	Profile *ProfilePayload `json:"profile,omitempty"`
	Record  *RecordPayload  `json:"record,omitempty"`
}

// IsEmpty reports whether no variant is set.
func (p OperationPayload) IsEmpty() bool {
	return p.Profile == nil && p.Record == nil
}

// PendingOperation is a queued, not yet acknowledged local mutation.
type PendingOperation struct {
	Seq         int64            `db:"seq" json:"seq"`
	Kind        OperationKind    `db:"op_kind" json:"op_kind"`
	Entity      EntityKind       `db:"entity_kind" json:"entity_kind"`
	EntityID    string           `db:"entity_id" json:"entity_id"`
	ParentID    string           `db:"parent_id" json:"parent_id,omitempty"`
	Payload     OperationPayload `db:"payload" json:"payload"`
	RetryCount  int              `db:"retry_count" json:"retry_count"`
	MaxRetries  int              `db:"max_retries" json:"max_retries"`
	NextRetryAt int64            `db:"next_retry_at" json:"next_retry_at"`
	Status      OperationStatus  `db:"status" json:"status"`
	LastError   string           `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64            `db:"created_at" json:"created_at"`
	UpdatedAt   int64            `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// NewCreateProfileOp queues the creation of p.
func NewCreateProfileOp(p *Profile) *PendingOperation {
	payload := p.Payload()
	return &PendingOperation{
		Kind:     OperationCreate,
		Entity:   EntityProfile,
		EntityID: p.ID,
		Payload:  OperationPayload{Profile: &payload},
	}
}

// NewUpdateProfileOp queues an update of p.
func NewUpdateProfileOp(p *Profile) *PendingOperation {
	op := NewCreateProfileOp(p)
	op.Kind = OperationUpdate
	return op
}

// NewDeleteProfileOp queues the deletion of the profile with the given id.
func NewDeleteProfileOp(id string) *PendingOperation {
	return &PendingOperation{
		Kind:     OperationDelete,
		Entity:   EntityProfile,
		EntityID: id,
	}
}

// NewCreateRecordOp queues the creation of r.
func NewCreateRecordOp(r *Record) *PendingOperation {
	payload := r.Payload()
	return &PendingOperation{
		Kind:     OperationCreate,
		Entity:   EntityRecord,
		EntityID: r.ID,
		ParentID: r.ProfileID,
		Payload:  OperationPayload{Record: &payload},
	}
}

// NewUpdateRecordOp queues an update of r.
func NewUpdateRecordOp(r *Record) *PendingOperation {
	op := NewCreateRecordOp(r)
	op.Kind = OperationUpdate
	return op
}

// NewDeleteRecordOp queues the deletion of a record.
func NewDeleteRecordOp(profileID, id string) *PendingOperation {
	return &PendingOperation{
		Kind:     OperationDelete,
		Entity:   EntityRecord,
		EntityID: id,
		ParentID: profileID,
	}
}

// Validate checks that the operation is well formed.
func (op *PendingOperation) Validate() error {
	switch op.Kind {
	case OperationCreate, OperationUpdate, OperationDelete:
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown operation kind %q", op.Kind)
	}
	if op.EntityID == "" {
		return apperrors.New(apperrors.ErrValidation, "operation entity id is required")
	}

	needsPayload := op.Kind != OperationDelete
	switch op.Entity {
	case EntityProfile:
		if op.Payload.Record != nil {
			return apperrors.New(apperrors.ErrValidation, "profile operation carries a record payload")
		}
		if needsPayload && op.Payload.Profile == nil {
			return apperrors.Newf(apperrors.ErrValidation, "%s profile operation requires a payload", op.Kind)
		}
	case EntityRecord:
		if op.ParentID == "" {
			return apperrors.New(apperrors.ErrValidation, "record operation requires a parent id")
		}
		if op.Payload.Profile != nil {
			return apperrors.New(apperrors.ErrValidation, "record operation carries a profile payload")
		}
		if needsPayload && op.Payload.Record == nil {
			return apperrors.Newf(apperrors.ErrValidation, "%s record operation requires a payload", op.Kind)
		}
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", op.Entity)
	}
	return nil
}

// Ready reports whether the operation may be dispatched at now.
func (op *PendingOperation) Ready(now time.Time) bool {
	return op.Status == OperationStatusPending && op.NextRetryAt <= now.Unix()
}

// String returns a short description used in logs.
func (op *PendingOperation) String() string {
	return fmt.Sprintf("#%d %s %s %s", op.Seq, op.Kind, op.Entity, op.EntityID)
}
