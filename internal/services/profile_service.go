package services

import (
	"context"

	"github.com/kimhsiao/cutlog/internal/cache"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/sync/hash"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
	"github.com/kimhsiao/cutlog/internal/uuid"
)

// ProfileService reads and mutates profiles through the cache.
type ProfileService struct {
	Backend
}

// NewProfileService creates a ProfileService.
func NewProfileService(b Backend) *ProfileService {
	return &ProfileService{Backend: b}
}

// List returns the visible cached profiles and requests a pass.
func (s *ProfileService) List(ctx context.Context) ([]*models.Profile, error) {
	defer s.trigger()

	profiles, err := s.Cache.VisibleProfiles(ctx)
	if !localFailure(err) {
		return profiles, err
	}

	logFallback("list profiles", err)
	remoteProfiles, rerr := s.Gateway.ListProfiles(ctx)
	if rerr != nil {
		return nil, remoteError("list profiles", rerr)
	}
	now := s.now()
	out := make([]*models.Profile, 0, len(remoteProfiles))
	for _, sp := range remoteProfiles {
		out = append(out, sp.ToModel(now))
	}
	return out, nil
}

// Get returns one visible profile.
func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.Cache.GetProfile(ctx, id)
	if err == nil {
		if p.SyncStatus == models.SyncStatusPendingDelete || p.IsDeleted {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "profile %s not found", id)
		}
		return p, nil
	}
	if !localFailure(err) {
		return nil, err
	}

	logFallback("get profile", err)
	fetched, rerr := s.Gateway.BatchGetProfiles(ctx, []string{id})
	if rerr != nil {
		return nil, remoteError("get profile", rerr)
	}
	if len(fetched) == 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "profile %s not found", id)
	}
	return fetched[0].ToModel(s.now()), nil
}

// Save creates the profile when its id is empty or unknown to the cache and
// updates it otherwise. The returned profile is the cached row.
func (s *ProfileService) Save(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.Clone()
	created := p.ID == ""
	if created {
		p.ID = uuid.NewClientID()
	}
	now := s.now()

	err := s.withTx(ctx, func(c *cache.Store, q *queue.Queue) error {
		existing, err := c.GetProfile(ctx, p.ID)
		created = apperrors.Is(err, apperrors.ErrNotFound)
		switch {
		case created:
			p.CreatedAt = now.Unix()
			p.RecordCount = 0
			p.LastSyncedAt = nil
		case err != nil:
			return err
		case existing.SyncStatus == models.SyncStatusPendingDelete:
			return apperrors.Newf(apperrors.ErrNotFound, "profile %s is being deleted", p.ID)
		default:
			p.OwnerID = existing.OwnerID
			p.CreatedAt = existing.CreatedAt
			p.RecordCount = existing.RecordCount
			p.LastSyncedAt = existing.LastSyncedAt
		}

		p.IsDeleted = false
		p.Touch(now)
		p.ContentHash = hash.Profile(p)
		p.SyncStatus = models.SyncStatusPendingUpload
		if err := c.UpsertProfile(ctx, p); err != nil {
			return err
		}
		if created {
			return q.Enqueue(ctx, models.NewCreateProfileOp(p))
		}
		return q.Enqueue(ctx, models.NewUpdateProfileOp(p))
	})
	if err == nil {
		s.trigger()
		return p, nil
	}
	if !localFailure(err) {
		return nil, err
	}

	logFallback("save profile", err)
	if created {
		sp, rerr := s.Gateway.CreateProfile(ctx, p.ID, p.Payload())
		if rerr != nil {
			return nil, remoteError("create profile", rerr)
		}
		return sp.ToModel(now), nil
	}
	sp, rerr := s.Gateway.UpdateProfile(ctx, p.ID, p.Payload())
	if rerr != nil {
		return nil, remoteError("update profile", rerr)
	}
	return sp.ToModel(now), nil
}

// Delete removes a profile and its records. A profile that never reached
// the server is removed locally together with its queued operations;
// otherwise it is hidden as PendingDelete until the server acknowledges.
func (s *ProfileService) Delete(ctx context.Context, id string) error {
	localOnly := false
	err := s.withTx(ctx, func(c *cache.Store, q *queue.Queue) error {
		p, err := c.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		if p.SyncStatus == models.SyncStatusPendingDelete {
			return nil
		}

		if p.LastSyncedAt == nil {
			localOnly = true
			if _, err := q.Cancel(ctx, id); err != nil {
				return err
			}
			if _, err := q.CancelChildren(ctx, id); err != nil {
				return err
			}
			_, err := c.DeleteProfile(ctx, id)
			return err
		}

		// The delete supersedes edits still waiting in the queue.
		if _, err := q.Cancel(ctx, id); err != nil {
			return err
		}
		p.SyncStatus = models.SyncStatusPendingDelete
		p.Touch(s.now())
		if err := c.UpsertProfile(ctx, p); err != nil {
			return err
		}
		return q.Enqueue(ctx, models.NewDeleteProfileOp(id))
	})
	if err == nil {
		if localOnly {
			logging.Debug("Removed unsynced profile locally", map[string]interface{}{"id": id})
		} else {
			s.trigger()
		}
		return nil
	}
	if !localFailure(err) {
		return err
	}

	logFallback("delete profile", err)
	if rerr := s.Gateway.DeleteProfile(ctx, id); rerr != nil {
		return remoteError("delete profile", rerr)
	}
	return nil
}
