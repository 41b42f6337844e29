package services

import (
	"context"

	"github.com/kimhsiao/cutlog/internal/cache"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/sync/hash"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
	"github.com/kimhsiao/cutlog/internal/uuid"
)

// RecordService reads and mutates records through the cache.
type RecordService struct {
	Backend
}

// NewRecordService creates a RecordService.
func NewRecordService(b Backend) *RecordService {
	return &RecordService{Backend: b}
}

// visibleParent returns the profile with id unless it is missing or being deleted.
func visibleParent(ctx context.Context, c *cache.Store, id string) (*models.Profile, error) {
	p, err := c.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.SyncStatus == models.SyncStatusPendingDelete || p.IsDeleted {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "profile %s not found", id)
	}
	return p, nil
}

// List returns the visible cached records of a profile, or of every profile
// when profileID is empty, and requests a pass.
func (s *RecordService) List(ctx context.Context, profileID string) ([]*models.Record, error) {
	defer s.trigger()

	records, err := s.list(ctx, profileID)
	if !localFailure(err) || profileID == "" {
		return records, err
	}

	logFallback("list records", err)
	remoteRecords, rerr := s.Gateway.ListRecords(ctx, profileID)
	if rerr != nil {
		return nil, remoteError("list records", rerr)
	}
	now := s.now()
	out := make([]*models.Record, 0, len(remoteRecords))
	for _, sr := range remoteRecords {
		out = append(out, sr.ToModel(now))
	}
	return out, nil
}

func (s *RecordService) list(ctx context.Context, profileID string) ([]*models.Record, error) {
	if profileID == "" {
		return s.Cache.VisibleRecords(ctx, "")
	}
	if _, err := visibleParent(ctx, s.Cache, profileID); err != nil {
		return nil, err
	}
	return s.Cache.VisibleRecords(ctx, profileID)
}

// Get returns one visible record. Records are only fetched from the cache.
func (s *RecordService) Get(ctx context.Context, id string) (*models.Record, error) {
	r, err := s.Cache.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.SyncStatus == models.SyncStatusPendingDelete {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	return r, nil
}

// Save creates the record when its id is empty or unknown to the cache and
// updates it otherwise. The parent's record count follows creates.
func (s *RecordService) Save(ctx context.Context, r *models.Record) (*models.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r = r.Clone()
	created := r.ID == ""
	if created {
		r.ID = uuid.NewClientID()
	}
	now := s.now()

	err := s.withTx(ctx, func(c *cache.Store, q *queue.Queue) error {
		if _, err := visibleParent(ctx, c, r.ProfileID); err != nil {
			return err
		}

		existing, err := c.GetRecord(ctx, r.ID)
		created = apperrors.Is(err, apperrors.ErrNotFound)
		switch {
		case created:
			r.CreatedAt = now.Unix()
			r.CreatedBy = ""
			r.LastSyncedAt = nil
		case err != nil:
			return err
		case existing.SyncStatus == models.SyncStatusPendingDelete:
			return apperrors.Newf(apperrors.ErrNotFound, "record %s is being deleted", r.ID)
		case existing.ProfileID != r.ProfileID:
			return apperrors.Newf(apperrors.ErrValidation, "record %s belongs to profile %s", r.ID, existing.ProfileID)
		default:
			r.CreatedBy = existing.CreatedBy
			r.CreatedAt = existing.CreatedAt
			r.LastSyncedAt = existing.LastSyncedAt
		}

		r.Touch(now)
		r.ContentHash = hash.Record(r)
		r.SyncStatus = models.SyncStatusPendingUpload
		if err := c.UpsertRecord(ctx, r); err != nil {
			return err
		}
		if !created {
			return q.Enqueue(ctx, models.NewUpdateRecordOp(r))
		}
		if err := c.AdjustRecordCount(ctx, r.ProfileID, 1); err != nil {
			return err
		}
		return q.Enqueue(ctx, models.NewCreateRecordOp(r))
	})
	if err == nil {
		s.trigger()
		return r, nil
	}
	if !localFailure(err) {
		return nil, err
	}

	logFallback("save record", err)
	if created {
		sr, rerr := s.Gateway.CreateRecord(ctx, r.ProfileID, r.ID, r.Payload())
		if rerr != nil {
			return nil, remoteError("create record", rerr)
		}
		return sr.ToModel(now), nil
	}
	sr, rerr := s.Gateway.UpdateRecord(ctx, r.ProfileID, r.ID, r.Payload())
	if rerr != nil {
		return nil, remoteError("update record", rerr)
	}
	return sr.ToModel(now), nil
}

// Delete removes a record. A record that never reached the server is removed
// locally with its queued operations; otherwise it stays PendingDelete until
// the server acknowledges.
func (s *RecordService) Delete(ctx context.Context, profileID, id string) error {
	localOnly := false
	err := s.withTx(ctx, func(c *cache.Store, q *queue.Queue) error {
		r, err := c.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if r.ProfileID != profileID {
			return apperrors.Newf(apperrors.ErrNotFound, "record %s not found in profile %s", id, profileID)
		}
		if r.SyncStatus == models.SyncStatusPendingDelete {
			return nil
		}
		if err := c.AdjustRecordCount(ctx, profileID, -1); err != nil {
			return err
		}

		if r.LastSyncedAt == nil {
			localOnly = true
			if _, err := q.Cancel(ctx, id); err != nil {
				return err
			}
			return c.DeleteRecord(ctx, id)
		}

		if _, err := q.Cancel(ctx, id); err != nil {
			return err
		}
		r.SyncStatus = models.SyncStatusPendingDelete
		r.Touch(s.now())
		if err := c.UpsertRecord(ctx, r); err != nil {
			return err
		}
		return q.Enqueue(ctx, models.NewDeleteRecordOp(profileID, id))
	})
	if err == nil {
		if !localOnly {
			s.trigger()
		}
		return nil
	}
	if !localFailure(err) {
		return err
	}

	logFallback("delete record", err)
	if rerr := s.Gateway.DeleteRecord(ctx, profileID, id); rerr != nil {
		return remoteError("delete record", rerr)
	}
	return nil
}
