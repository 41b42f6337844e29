// Package remote defines the remote API consumed by the sync engine and an
// HTTP implementation of it.
package remote

import (
	"context"
	"time"

	"github.com/kimhsiao/cutlog/internal/models"
)

// MaxBatchSize bounds the ids accepted by one BatchGetProfiles call.
const MaxBatchSize = 100

// Gateway is the remote authoritative store.
type Gateway interface {
	// CreateProfile creates a profile. clientID is sent as the idempotency key.
	CreateProfile(ctx context.Context, clientID string, payload models.ProfilePayload) (*ServerProfile, error)
	UpdateProfile(ctx context.Context, id string, payload models.ProfilePayload) (*ServerProfile, error)
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context) ([]*ServerProfile, error)
	BatchGetProfiles(ctx context.Context, ids []string) ([]*ServerProfile, error)

	CreateRecord(ctx context.Context, profileID, clientID string, payload models.RecordPayload) (*ServerRecord, error)
	UpdateRecord(ctx context.Context, profileID, id string, payload models.RecordPayload) (*ServerRecord, error)
	DeleteRecord(ctx context.Context, profileID, id string) error
	ListRecords(ctx context.Context, profileID string) ([]*ServerRecord, error)

	GetManifest(ctx context.Context) (*Manifest, error)
}

// ServerProfile is a profile as returned by the server, with its
// authoritative content hash.
type ServerProfile struct {
	ID           string               `json:"id"`
	OwnerID      string               `json:"owner_id"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Measurements []models.Measurement `json:"measurements"`
	ImageURLs    []string             `json:"image_urls"`
	RecordCount  int                  `json:"record_count"`
	CreatedAt    int64                `json:"created_at"`
	UpdatedAt    int64                `json:"updated_at"`
	ContentHash  string               `json:"content_hash"`
	IsDeleted    bool                 `json:"is_deleted"`
}

// ToModel converts the server profile to a Synced cache row.
func (sp *ServerProfile) ToModel(now time.Time) *models.Profile {
	p := &models.Profile{
		ID:          sp.ID,
		OwnerID:     sp.OwnerID,
		RecordCount: sp.RecordCount,
		CreatedAt:   sp.CreatedAt,
		UpdatedAt:   sp.UpdatedAt,
		IsDeleted:   sp.IsDeleted,
	}
	sp.Payload().Apply(p)
	p.MarkSynced(sp.ContentHash, now)
	return p
}

// Payload returns the user-editable fields.
func (sp *ServerProfile) Payload() models.ProfilePayload {
	return models.ProfilePayload{
		Name:         sp.Name,
		Description:  sp.Description,
		Measurements: sp.Measurements,
		ImageURLs:    sp.ImageURLs,
	}
}

// ServerRecord is a record as returned by the server.
type ServerRecord struct {
	ID              string   `json:"id"`
	ProfileID       string   `json:"profile_id"`
	CreatedBy       string   `json:"created_by"`
	OccurredAt      int64    `json:"occurred_at"`
	Stylist         string   `json:"stylist,omitempty"`
	Location        string   `json:"location,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	PriceCents      int64    `json:"price_cents"`
	DurationMinutes int      `json:"duration_minutes"`
	ImageURLs       []string `json:"image_urls"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
	ContentHash     string   `json:"content_hash"`
}

// ToModel converts the server record to a Synced cache row.
func (sr *ServerRecord) ToModel(now time.Time) *models.Record {
	r := &models.Record{
		ID:        sr.ID,
		ProfileID: sr.ProfileID,
		CreatedBy: sr.CreatedBy,
		CreatedAt: sr.CreatedAt,
		UpdatedAt: sr.UpdatedAt,
	}
	sr.Payload().Apply(r)
	r.MarkSynced(sr.ContentHash, now)
	return r
}

// Payload returns the user-editable fields.
func (sr *ServerRecord) Payload() models.RecordPayload {
	return models.RecordPayload{
		OccurredAt:      sr.OccurredAt,
		Stylist:         sr.Stylist,
		Location:        sr.Location,
		Notes:           sr.Notes,
		PriceCents:      sr.PriceCents,
		DurationMinutes: sr.DurationMinutes,
		ImageURLs:       sr.ImageURLs,
	}
}

// ManifestEntry summarizes one profile owned by the caller.
type ManifestEntry struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
	UpdatedAt   int64  `json:"updated_at"`
	IsDeleted   bool   `json:"is_deleted"`
}

// Manifest lists every profile owned by the caller.
type Manifest struct {
	Profiles   []ManifestEntry `json:"profiles"`
	ServerTime int64           `json:"server_time"`
}
