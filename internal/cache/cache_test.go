package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/db"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

func newTestCache(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenAndMigrate(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(database.DB)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})
	return New(repo)
}

func profile(id string, status models.SyncStatus) *models.Profile {
	return &models.Profile{ID: id, Name: "Profile " + id, CreatedAt: 1, UpdatedAt: 1, SyncStatus: status}
}

func record(id, profileID string, status models.SyncStatus) *models.Record {
	return &models.Record{ID: id, ProfileID: profileID, OccurredAt: 1700000000, CreatedAt: 1, UpdatedAt: 1, SyncStatus: status}
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.UpsertProfile(ctx, profile("p1", models.SyncStatusPendingUpload)))
	got, err := c.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPendingUpload, got.SyncStatus)

	// Upsert replaces by id.
	got.Name = "changed"
	got.SyncStatus = models.SyncStatusSynced
	require.NoError(t, c.UpsertProfile(ctx, got))
	all, err := c.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "changed", all[0].Name)
}

func TestUpsertRejectsInvalidStatus(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	err := c.UpsertProfile(ctx, profile("p1", ""))
	assert.True(t, apperrors.Is(err, apperrors.ErrCache))

	err = c.UpsertRecords(ctx, []*models.Record{record("r1", "p1", "bogus")})
	assert.True(t, apperrors.Is(err, apperrors.ErrCache))
}

func TestVisibleExcludesPendingDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	deleted := profile("p3", models.SyncStatusSynced)
	deleted.IsDeleted = true
	require.NoError(t, c.UpsertProfiles(ctx, []*models.Profile{
		profile("p1", models.SyncStatusSynced),
		profile("p2", models.SyncStatusPendingDelete),
		deleted,
	}))
	require.NoError(t, c.UpsertRecords(ctx, []*models.Record{
		record("r1", "p1", models.SyncStatusSynced),
		record("r2", "p1", models.SyncStatusPendingDelete),
	}))

	profiles, err := c.VisibleProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "p1", profiles[0].ID)

	records, err := c.VisibleRecords(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
}

func TestDeleteProfileCascadesToRecords(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.UpsertProfile(ctx, profile("p1", models.SyncStatusSynced)))
	require.NoError(t, c.UpsertProfile(ctx, profile("p2", models.SyncStatusSynced)))
	require.NoError(t, c.UpsertRecords(ctx, []*models.Record{
		record("r1", "p1", models.SyncStatusSynced),
		record("r2", "p1", models.SyncStatusPendingUpload),
		record("r3", "p2", models.SyncStatusSynced),
	}))

	removed, err := c.DeleteProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = c.GetProfile(ctx, "p1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	remaining, err := c.ListRecords(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "p2", remaining[0].ProfileID)
}

func TestReplaceProfileIDMigratesRecords(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.UpsertProfile(ctx, profile("tmp-123", models.SyncStatusPendingUpload)))
	require.NoError(t, c.UpsertRecord(ctx, record("r1", "tmp-123", models.SyncStatusPendingUpload)))

	require.NoError(t, c.ReplaceProfileID(ctx, "tmp-123", "srv-1"))

	_, err := c.GetProfile(ctx, "srv-1")
	require.NoError(t, err)
	_, err = c.GetProfile(ctx, "tmp-123")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	r, err := c.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", r.ProfileID)

	// Same id is a no-op.
	assert.NoError(t, c.ReplaceProfileID(ctx, "srv-1", "srv-1"))
}

func TestReplaceRecordID(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.UpsertRecord(ctx, record("tmp-r", "p1", models.SyncStatusPendingUpload)))
	require.NoError(t, c.ReplaceRecordID(ctx, "tmp-r", "c-99"))

	_, err := c.GetRecord(ctx, "c-99")
	assert.NoError(t, err)
	_, err = c.GetRecord(ctx, "tmp-r")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.UpsertProfiles(ctx, []*models.Profile{
		profile("p1", models.SyncStatusSynced),
		profile("p2", models.SyncStatusPendingUpload),
	}))
	require.NoError(t, c.UpsertRecords(ctx, []*models.Record{
		record("r1", "p1", models.SyncStatusPendingDelete),
		record("r2", "p1", models.SyncStatusSynced),
	}))

	pending, err := c.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Len())
	assert.Equal(t, "p2", pending.Profiles[0].ID)
	assert.Equal(t, "r1", pending.Records[0].ID)

	index, err := c.ProfileIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, index, 2)
}

func TestWithTxRollsBackCacheWrites(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	boom := errors.New("boom")

	err := c.WithTx(ctx, func(tx *Store) error {
		if err := tx.UpsertProfile(ctx, profile("p1", models.SyncStatusPendingUpload)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := c.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
