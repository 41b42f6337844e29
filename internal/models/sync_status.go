// Package models provides data model definitions for cutlog.
package models

import "time"

// SyncStatus is the synchronization state of a cached entity.
type SyncStatus string

const (
	// SyncStatusSynced means the row matches the last server acknowledgement.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusPendingUpload means a local create or update is queued.
	SyncStatusPendingUpload SyncStatus = "pending_upload"
	// SyncStatusPendingDelete means a local delete is queued; the row is hidden from reads.
	SyncStatusPendingDelete SyncStatus = "pending_delete"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusSynced, SyncStatusPendingUpload, SyncStatusPendingDelete:
		return true
	}
	return false
}

// IsPending reports whether the entity has unacknowledged local changes.
func (s SyncStatus) IsPending() bool {
	return s == SyncStatusPendingUpload || s == SyncStatusPendingDelete
}

// Sync metadata keys.
const (
	MetaLastManifestServerTime = "last_manifest_server_time"
	MetaLastSyncAt             = "last_sync_at"
)

// SyncMetadata is a key/value row of the sync_metadata table.
type SyncMetadata struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncMetadata.
func (SyncMetadata) TableName() string {
	return "sync_metadata"
}

func unixPtr(t time.Time) *int64 {
	v := t.Unix()
	return &v
}
