package models

import (
	"strings"
	"time"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
)

// MaxProfileImages is the number of media references a profile can hold.
const MaxProfileImages = 3

// Measurement is one step of a haircut description. Order is significant.
type Measurement struct {
	Area      string `json:"area"`
	Size      string `json:"size"`
	Technique string `json:"technique,omitempty"`
	Notes     string `json:"notes,omitempty"`
	StepOrder int    `json:"step_order"`
}

// Profile is a tracked subject whose haircuts are recorded.
type Profile struct {
	ID           string        `db:"id" json:"id"`
	OwnerID      string        `db:"owner_id" json:"owner_id"`
	Name         string        `db:"name" json:"name"`
	Description  string        `db:"description" json:"description,omitempty"`
	Measurements []Measurement `db:"measurements" json:"measurements"`
	ImageURLs    []string      `db:"image_urls" json:"image_urls"`
	RecordCount  int           `db:"record_count" json:"record_count"`
	CreatedAt    int64         `db:"created_at" json:"created_at"`
	UpdatedAt    int64         `db:"updated_at" json:"updated_at"`
	ContentHash  string        `db:"content_hash" json:"content_hash,omitempty"`
	IsDeleted    bool          `db:"is_deleted" json:"is_deleted"`
	SyncStatus   SyncStatus    `db:"sync_status" json:"sync_status"`
	LastSyncedAt *int64        `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

// TableName returns the table name for Profile.
func (Profile) TableName() string {
	return "profiles"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (p *Profile) CreatedAtTime() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *Profile) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// Touch updates the UpdatedAt timestamp.
func (p *Profile) Touch(now time.Time) {
	p.UpdatedAt = now.Unix()
}

// MarkSynced flips the profile to Synced with the given authoritative hash.
func (p *Profile) MarkSynced(hash string, now time.Time) {
	if hash != "" {
		p.ContentHash = hash
	}
	p.SyncStatus = SyncStatusSynced
	p.LastSyncedAt = unixPtr(now)
}

// Validate checks the user-editable fields.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.New(apperrors.ErrValidation, "profile name is required")
	}
	if len(p.ImageURLs) > MaxProfileImages {
		return apperrors.Newf(apperrors.ErrValidation, "profile has %d images, max %d", len(p.ImageURLs), MaxProfileImages)
	}
	return nil
}

// Payload returns the fields sent to the server on create and update.
func (p *Profile) Payload() ProfilePayload {
	return ProfilePayload{
		Name:         p.Name,
		Description:  p.Description,
		Measurements: append([]Measurement(nil), p.Measurements...),
		ImageURLs:    append([]string(nil), p.ImageURLs...),
	}
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Measurements = append([]Measurement(nil), p.Measurements...)
	c.ImageURLs = append([]string(nil), p.ImageURLs...)
	if p.LastSyncedAt != nil {
		v := *p.LastSyncedAt
		c.LastSyncedAt = &v
	}
	return &c
}

// ProfilePayload is the wire body of a profile create or update.
type ProfilePayload struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Measurements []Measurement `json:"measurements"`
	ImageURLs    []string      `json:"image_urls"`
}

// Apply copies the payload fields onto p.
func (pp ProfilePayload) Apply(p *Profile) {
	p.Name = pp.Name
	p.Description = pp.Description
	p.Measurements = append([]Measurement(nil), pp.Measurements...)
	p.ImageURLs = append([]string(nil), pp.ImageURLs...)
}
