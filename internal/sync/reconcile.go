package sync

import (
	"context"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/conflict"
)

var (
	profileResolver = conflict.NewResolver(models.EntityProfile)
	recordResolver  = conflict.NewResolver(models.EntityRecord)
)

// planProfiles classifies the manifest against every cached profile.
func (e *Engine) planProfiles(ctx context.Context, manifest *remote.Manifest) (*conflict.Plan, error) {
	cached, err := e.cache.ListProfiles(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCache, "list cached profiles", err)
	}

	local := make([]conflict.Local, len(cached))
	for i, p := range cached {
		local[i] = conflict.LocalProfile(p)
	}
	entries := make([]conflict.Remote, len(manifest.Profiles))
	for i, m := range manifest.Profiles {
		entries[i] = conflict.Remote{
			ID:          m.ID,
			ContentHash: m.ContentHash,
			UpdatedAt:   m.UpdatedAt,
			IsDeleted:   m.IsDeleted,
		}
	}
	return profileResolver.Plan(local, entries), nil
}

// recordPlan classifies the server's records of one profile against the cache.
func recordPlan(cached []*models.Record, server []*remote.ServerRecord) *conflict.Plan {
	local := make([]conflict.Local, len(cached))
	for i, r := range cached {
		local[i] = conflict.LocalRecord(r)
	}
	entries := make([]conflict.Remote, len(server))
	for i, sr := range server {
		entries[i] = conflict.Remote{
			ID:          sr.ID,
			ContentHash: sr.ContentHash,
			UpdatedAt:   sr.UpdatedAt,
		}
	}
	return recordResolver.Plan(local, entries)
}
