// Package conflict provides unit tests for manifest classification.
package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/models"
)

func synced(id, hash string, updatedAt int64) Local {
	return Local{ID: id, ContentHash: hash, UpdatedAt: updatedAt, Status: models.SyncStatusSynced}
}

func TestClassify(t *testing.T) {
	r := NewResolver(models.EntityProfile)

	pendingUpload := Local{ID: "p1", ContentHash: "h1", UpdatedAt: 10, Status: models.SyncStatusPendingUpload}
	pendingDelete := Local{ID: "p1", ContentHash: "h1", UpdatedAt: 10, Status: models.SyncStatusPendingDelete}
	local := synced("p1", "h1", 10)

	tests := []struct {
		name   string
		local  *Local
		remote *Remote
		action Action
		reason Reason
	}{
		{"new on server", nil, &Remote{ID: "p1", ContentHash: "h1"}, ActionFetch, ReasonNew},
		{"deleted and unknown", nil, &Remote{ID: "p1", IsDeleted: true}, ActionNone, ReasonUnchanged},
		{"unchanged", &local, &Remote{ID: "p1", ContentHash: "h1", UpdatedAt: 10}, ActionNone, ReasonUnchanged},
		{"changed on server", &local, &Remote{ID: "p1", ContentHash: "h2", UpdatedAt: 11}, ActionFetch, ReasonChanged},
		{"touched on server", &local, &Remote{ID: "p1", ContentHash: "h1", UpdatedAt: 20}, ActionFetch, ReasonTouched},
		{"deleted in band", &local, &Remote{ID: "p1", ContentHash: "h1", IsDeleted: true}, ActionDeleteLocal, ReasonDeletedRemote},
		{"missing from manifest", &local, nil, ActionDeleteLocal, ReasonMissingRemote},
		{"pending upload, server changed", &pendingUpload, &Remote{ID: "p1", ContentHash: "h2"}, ActionDefer, ReasonLocalPending},
		{"pending upload, server deleted", &pendingUpload, &Remote{ID: "p1", IsDeleted: true}, ActionDefer, ReasonLocalPending},
		{"pending upload, same hash", &pendingUpload, &Remote{ID: "p1", ContentHash: "h1", UpdatedAt: 99}, ActionNone, ReasonLocalPending},
		{"pending upload, never uploaded", &pendingUpload, nil, ActionNone, ReasonLocalPending},
		{"pending delete, server changed", &pendingDelete, &Remote{ID: "p1", ContentHash: "h2"}, ActionDefer, ReasonLocalPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Classify(tt.local, tt.remote)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, "p1", d.ID)
		})
	}
}

func TestPlan(t *testing.T) {
	r := NewResolver(models.EntityProfile)

	local := []Local{
		synced("P1", "h1", 10),
		synced("P2", "h1", 10),
		synced("P3", "h3", 10),
		{ID: "P4", ContentHash: "h4", Status: models.SyncStatusPendingUpload},
		{ID: "tmp-1", Status: models.SyncStatusPendingUpload},
		synced("P6", "h6", 10),
	}
	remote := []Remote{
		{ID: "P1", ContentHash: "h2", UpdatedAt: 11},
		{ID: "P3", ContentHash: "h3", UpdatedAt: 10},
		{ID: "P4", ContentHash: "h5", UpdatedAt: 11},
		{ID: "P5", ContentHash: "h5", UpdatedAt: 11},
		{ID: "P6", ContentHash: "h6", IsDeleted: true},
		{ID: "P5", ContentHash: "h5", UpdatedAt: 11},
	}

	plan := r.Plan(local, remote)

	assert.Equal(t, []string{"P1", "P5"}, plan.FetchIDs())
	assert.Equal(t, ReasonChanged, plan.Fetch[0].Reason)
	assert.Equal(t, ReasonNew, plan.Fetch[1].Reason)

	require.Len(t, plan.Delete, 2)
	assert.Equal(t, "P6", plan.Delete[0].ID)
	assert.Equal(t, ReasonDeletedRemote, plan.Delete[0].Reason)
	assert.Equal(t, "P2", plan.Delete[1].ID)
	assert.Equal(t, ReasonMissingRemote, plan.Delete[1].Reason)

	require.Len(t, plan.Deferred, 1)
	assert.Equal(t, "P4", plan.Deferred[0].ID)
	assert.Equal(t, 1, plan.Unchanged)
}

func TestPlanEmptyManifestDeletesAllSynced(t *testing.T) {
	r := NewResolver(models.EntityRecord)
	plan := r.Plan([]Local{synced("b", "h", 1), synced("a", "h", 1)}, nil)

	require.Len(t, plan.Delete, 2)
	assert.Equal(t, "a", plan.Delete[0].ID)
	assert.Equal(t, "b", plan.Delete[1].ID)
	assert.Empty(t, plan.Fetch)
}

func TestLocalProjections(t *testing.T) {
	p := &models.Profile{ID: "p", ContentHash: "h", UpdatedAt: 5, SyncStatus: models.SyncStatusSynced}
	assert.Equal(t, synced("p", "h", 5), LocalProfile(p))

	rec := &models.Record{ID: "r", ContentHash: "h", UpdatedAt: 5, SyncStatus: models.SyncStatusPendingDelete}
	assert.Equal(t, models.SyncStatusPendingDelete, LocalRecord(rec).Status)
}
