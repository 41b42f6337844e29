package models

import (
	"strings"
	"time"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
)

// Record is one haircut belonging to a Profile.
type Record struct {
	ID              string     `db:"id" json:"id"`
	ProfileID       string     `db:"profile_id" json:"profile_id"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	OccurredAt      int64      `db:"occurred_at" json:"occurred_at"`
	Stylist         string     `db:"stylist" json:"stylist,omitempty"`
	Location        string     `db:"location" json:"location,omitempty"`
	Notes           string     `db:"notes" json:"notes,omitempty"`
	PriceCents      int64      `db:"price_cents" json:"price_cents"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	ImageURLs       []string   `db:"image_urls" json:"image_urls"`
	CreatedAt       int64      `db:"created_at" json:"created_at"`
	UpdatedAt       int64      `db:"updated_at" json:"updated_at"`
	ContentHash     string     `db:"content_hash" json:"content_hash,omitempty"`
	SyncStatus      SyncStatus `db:"sync_status" json:"sync_status"`
	LastSyncedAt    *int64     `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// OccurredAtTime returns the OccurredAt as time.Time.
func (r *Record) OccurredAtTime() time.Time {
	return time.Unix(r.OccurredAt, 0)
}

// Touch updates the UpdatedAt timestamp.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now.Unix()
}

// MarkSynced flips the record to Synced with the given authoritative hash.
func (r *Record) MarkSynced(hash string, now time.Time) {
	if hash != "" {
		r.ContentHash = hash
	}
	r.SyncStatus = SyncStatusSynced
	r.LastSyncedAt = unixPtr(now)
}

// Validate checks the user-editable fields.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ProfileID) == "" {
		return apperrors.New(apperrors.ErrValidation, "record profile id is required")
	}
	if r.OccurredAt <= 0 {
		return apperrors.New(apperrors.ErrValidation, "record date is required")
	}
	if r.PriceCents < 0 {
		return apperrors.New(apperrors.ErrValidation, "record price must not be negative")
	}
	if r.DurationMinutes < 0 {
		return apperrors.New(apperrors.ErrValidation, "record duration must not be negative")
	}
	return nil
}

// Payload returns the fields sent to the server on create and update.
func (r *Record) Payload() RecordPayload {
	return RecordPayload{
		OccurredAt:      r.OccurredAt,
		Stylist:         r.Stylist,
		Location:        r.Location,
		Notes:           r.Notes,
		PriceCents:      r.PriceCents,
		DurationMinutes: r.DurationMinutes,
		ImageURLs:       append([]string(nil), r.ImageURLs...),
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.ImageURLs = append([]string(nil), r.ImageURLs...)
	if r.LastSyncedAt != nil {
		v := *r.LastSyncedAt
		c.LastSyncedAt = &v
	}
	return &c
}

// RecordPayload is the wire body of a record create or update.
type RecordPayload struct {
	OccurredAt      int64    `json:"occurred_at"`
	Stylist         string   `json:"stylist,omitempty"`
	Location        string   `json:"location,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	PriceCents      int64    `json:"price_cents"`
	DurationMinutes int      `json:"duration_minutes"`
	ImageURLs       []string `json:"image_urls"`
}

// Apply copies the payload fields onto r.
func (rp RecordPayload) Apply(r *Record) {
	r.OccurredAt = rp.OccurredAt
	r.Stylist = rp.Stylist
	r.Location = rp.Location
	r.Notes = rp.Notes
	r.PriceCents = rp.PriceCents
	r.DurationMinutes = rp.DurationMinutes
	r.ImageURLs = append([]string(nil), rp.ImageURLs...)
}
