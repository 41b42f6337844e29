// Package sync provides the sync orchestrator.
//
// A pass uploads queued local mutations first, then reconciles the cache
// against the server manifest. At most one pass runs at a time per Engine.
package sync

import (
	"context"
	"strconv"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kimhsiao/cutlog/internal/cache"
	"github.com/kimhsiao/cutlog/internal/db"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/conflict"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
)

// SyncStatus represents the current state of the engine.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

const (
	// DefaultBatchSize is the number of ids per batch fetch.
	DefaultBatchSize = 20
	// DefaultFetchConcurrency bounds parallel batch fetches.
	DefaultFetchConcurrency = 4
)

// Options configures an Engine.
type Options struct {
	BatchSize        int
	FetchConcurrency int
	RetryPolicy      queue.Policy
	// Metrics is optional.
	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > remote.MaxBatchSize {
		o.BatchSize = remote.MaxBatchSize
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = DefaultFetchConcurrency
	}
	if o.RetryPolicy == (queue.Policy{}) {
		o.RetryPolicy = queue.DefaultPolicy()
	}
	return o
}

// SyncResult summarizes one pass.
type SyncResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Upload phase
	Uploaded     int `json:"uploaded"`
	UploadFailed int `json:"upload_failed"`
	Skipped      int `json:"skipped"`

	// Download phase
	ProfilesUpdated int `json:"profiles_updated"`
	ProfilesDeleted int `json:"profiles_deleted"`
	RecordsUpdated  int `json:"records_updated"`
	RecordsDeleted  int `json:"records_deleted"`
	// Conflicts counts remote differences deferred because local changes are pending.
	Conflicts int `json:"conflicts"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Engine is the sync orchestrator.
type Engine struct {
	store   db.Store
	cache   *cache.Store
	queue   *queue.Queue
	gateway remote.Gateway
	opts    Options
	metrics *Metrics

	// pass guards entry; TryAcquire never blocks.
	pass *semaphore.Weighted

	mu           gosync.RWMutex
	now          func() time.Time
	status       SyncStatus
	lastSync     *time.Time
	lastErr      error
	lastResult   *SyncResult
	handler      SyncEventHandler
	errorHistory []SyncErrorEntry
}

// NewEngine creates an Engine over the durable store and the remote gateway.
func NewEngine(store db.Store, gateway remote.Gateway, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:        store,
		cache:        cache.New(store),
		queue:        queue.New(store, opts.RetryPolicy),
		gateway:      gateway,
		opts:         opts,
		metrics:      opts.Metrics,
		pass:         semaphore.NewWeighted(1),
		now:          time.Now,
		status:       SyncStatusIdle,
		errorHistory: make([]SyncErrorEntry, 0),
	}
}

// Cache returns the cached entity store shared with the application layer.
func (e *Engine) Cache() *cache.Store {
	return e.cache
}

// Queue returns the pending operation queue.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// SetClock replaces the time source of the engine and its queue.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	e.queue.SetClock(now)
}

func (e *Engine) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns the end time of the last successful pass.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the error of the last pass, nil if it succeeded.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// LastResult returns the summary of the last pass.
func (e *Engine) LastResult() *SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// PendingChanges returns the number of queued operations.
func (e *Engine) PendingChanges() int {
	n, err := e.queue.Size(context.Background())
	if err != nil {
		return 0
	}
	return n
}

// Sync runs one pass. It returns an ErrSyncInProgress error immediately if
// another pass holds the lock.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if !e.pass.TryAcquire(1) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.pass.Release(1)

	result := &SyncResult{StartTime: e.clock()}

	e.mu.Lock()
	e.status = SyncStatusSyncing
	e.mu.Unlock()

	e.emitEvent(SyncEvent{Type: SyncEventStarted, Message: "sync started"})
	logging.Info("Sync pass started")

	err := e.upload(ctx, result)
	if err == nil {
		err = e.download(ctx, result)
	}
	if err == nil {
		err = e.store.SetMetadata(ctx, models.MetaLastSyncAt, strconv.FormatInt(e.clock().Unix(), 10), e.clock().Unix())
	}

	e.finish(ctx, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) finish(ctx context.Context, result *SyncResult, err error) {
	result.EndTime = e.clock()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}

	e.mu.Lock()
	e.lastResult = result
	e.lastErr = err
	if err != nil {
		e.status = SyncStatusFailed
	} else {
		e.status = SyncStatusIdle
		end := result.EndTime
		e.lastSync = &end
	}
	e.mu.Unlock()

	e.metrics.observePass(result)
	if size, serr := e.queue.Size(ctx); serr == nil {
		e.metrics.setPending(size)
	}

	fields := map[string]interface{}{
		"duration_ms":      result.Duration.Milliseconds(),
		"uploaded":         result.Uploaded,
		"upload_failed":    result.UploadFailed,
		"skipped":          result.Skipped,
		"profiles_updated": result.ProfilesUpdated,
		"profiles_deleted": result.ProfilesDeleted,
		"records_updated":  result.RecordsUpdated,
		"records_deleted":  result.RecordsDeleted,
		"conflicts":        result.Conflicts,
	}
	if err != nil {
		e.recordError("", "sync", err)
		logging.ErrorWithCode("Sync pass failed", string(apperrors.CodeOf(err)), err, fields)
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: err.Error(), Result: result})
		return
	}
	logging.Info("Sync pass completed", fields)
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Message: "sync completed", Result: result})
}

// RetryDead resets dead-lettered operations so the next pass dispatches them.
func (e *Engine) RetryDead(ctx context.Context) (int, error) {
	return e.queue.RetryDead(ctx)
}

// DiscardDead drops every dead-lettered operation together with the later
// operations of the same entities. Entities that were synced before return
// to Synced so the next pass restores the server's version; entities that
// never reached the server are removed from the cache.
func (e *Engine) DiscardDead(ctx context.Context) (int, error) {
	dead, err := e.queue.ListDead(ctx)
	if err != nil {
		return 0, err
	}

	discarded := 0
	for _, op := range dead {
		err := e.store.WithTx(ctx, func(tx db.Store) error {
			c, q := e.cache.With(tx), e.queue.With(tx)
			n, err := q.Cancel(ctx, op.EntityID)
			if err != nil {
				return err
			}
			discarded += int(n)
			if op.Entity == models.EntityProfile {
				return e.revertProfile(ctx, c, q, op.EntityID)
			}
			return e.revertRecord(ctx, c, op.EntityID)
		})
		if err != nil {
			return discarded, apperrors.Wrap(apperrors.ErrQueue, "discard "+op.String(), err)
		}
	}

	if discarded > 0 {
		logging.Info("Discarded dead operations", map[string]interface{}{"count": discarded})
	}
	return discarded, nil
}

func (e *Engine) revertProfile(ctx context.Context, c *cache.Store, q *queue.Queue, id string) error {
	p, err := c.GetProfile(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.LastSyncedAt == nil {
		if _, err := q.CancelChildren(ctx, id); err != nil {
			return err
		}
		_, err := c.DeleteProfile(ctx, id)
		return err
	}
	p.SyncStatus = models.SyncStatusSynced
	// Zero UpdatedAt so the manifest marks the profile touched and its
	// records are reconciled too.
	p.UpdatedAt = 0
	return c.UpsertProfile(ctx, p)
}

func (e *Engine) revertRecord(ctx context.Context, c *cache.Store, id string) error {
	r, err := c.GetRecord(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.LastSyncedAt == nil {
		if err := c.DeleteRecord(ctx, id); err != nil {
			return err
		}
		return c.AdjustRecordCount(ctx, r.ProfileID, -1)
	}
	r.SyncStatus = models.SyncStatusSynced
	if err := c.UpsertRecord(ctx, r); err != nil {
		return err
	}
	parent, err := c.GetProfile(ctx, r.ProfileID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	parent.UpdatedAt = 0
	return c.UpsertProfile(ctx, parent)
}

// =====================================================
// Phase 1: upload
// =====================================================

func (e *Engine) upload(ctx context.Context, res *SyncResult) error {
	ops, err := e.queue.ListAll(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "list pending operations", err)
	}
	if len(ops) == 0 {
		return nil
	}

	now := e.clock()
	remap := make(map[string]string)
	blocked := make(map[string]bool)

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id, ok := remap[op.EntityID]; ok {
			op.EntityID = id
		}
		if id, ok := remap[op.ParentID]; ok {
			op.ParentID = id
		}

		// Later operations of a blocked entity, and record operations under a
		// blocked profile, wait for the next pass.
		if blocked[op.EntityID] || (op.Entity == models.EntityRecord && blocked[op.ParentID]) || !op.Ready(now) {
			blocked[op.EntityID] = true
			res.Skipped++
			continue
		}

		newID, err := e.dispatch(ctx, op)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrCache) {
				return err
			}
			blocked[op.EntityID] = true
			res.UploadFailed++
			e.recordError(op.EntityID, string(op.Kind), err)

			permanent := remote.IsPermanent(err) || apperrors.Is(err, apperrors.ErrValidation)
			dead, merr := e.queue.MarkFailed(ctx, op, err, permanent)
			if merr != nil {
				return merr
			}
			result := "retry"
			if dead {
				result = "dead"
			}
			e.metrics.observeOperation(op, result)
			continue
		}

		if newID != "" && newID != op.EntityID {
			remap[op.EntityID] = newID
		}
		res.Uploaded++
		e.metrics.observeOperation(op, "ok")
	}
	return nil
}

// dispatch replays one operation and commits its acknowledgement. For
// creates it returns the server-assigned id. Local commit failures are
// returned as ErrCache errors.
func (e *Engine) dispatch(ctx context.Context, op *models.PendingOperation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}
	switch op.Entity {
	case models.EntityProfile:
		return e.dispatchProfile(ctx, op)
	case models.EntityRecord:
		return e.dispatchRecord(ctx, op)
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", op.Entity)
}

func (e *Engine) dispatchProfile(ctx context.Context, op *models.PendingOperation) (string, error) {
	switch op.Kind {
	case models.OperationCreate:
		sp, err := e.gateway.CreateProfile(ctx, op.EntityID, *op.Payload.Profile)
		if err != nil {
			return "", err
		}
		err = e.commit(ctx, "create profile", func(c *cache.Store, q *queue.Queue) error {
			if err := q.Remove(ctx, op.Seq); err != nil {
				return err
			}
			err := c.ReplaceProfileID(ctx, op.EntityID, sp.ID)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				// Removed locally while the create was in flight.
				return q.Enqueue(ctx, models.NewDeleteProfileOp(sp.ID))
			}
			if err != nil {
				return err
			}
			if _, err := q.RemapEntity(ctx, op.EntityID, sp.ID); err != nil {
				return err
			}
			return e.settleProfile(ctx, c, q, sp)
		})
		if err != nil {
			return "", err
		}
		logging.Info("Profile created remotely", map[string]interface{}{
			"client_id": op.EntityID,
			"server_id": sp.ID,
		})
		return sp.ID, nil

	case models.OperationUpdate:
		sp, err := e.gateway.UpdateProfile(ctx, op.EntityID, *op.Payload.Profile)
		if err != nil {
			return "", err
		}
		return "", e.commit(ctx, "update profile", func(c *cache.Store, q *queue.Queue) error {
			if err := q.Remove(ctx, op.Seq); err != nil {
				return err
			}
			return e.settleProfile(ctx, c, q, sp)
		})

	case models.OperationDelete:
		if err := e.gateway.DeleteProfile(ctx, op.EntityID); err != nil && !remote.IsNotFound(err) {
			return "", err
		}
		return "", e.commit(ctx, "delete profile", func(c *cache.Store, q *queue.Queue) error {
			if _, err := q.Cancel(ctx, op.EntityID); err != nil {
				return err
			}
			if _, err := q.CancelChildren(ctx, op.EntityID); err != nil {
				return err
			}
			_, err := c.DeleteProfile(ctx, op.EntityID)
			return err
		})
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "unknown operation kind %q", op.Kind)
}

func (e *Engine) dispatchRecord(ctx context.Context, op *models.PendingOperation) (string, error) {
	switch op.Kind {
	case models.OperationCreate:
		sr, err := e.gateway.CreateRecord(ctx, op.ParentID, op.EntityID, *op.Payload.Record)
		if err != nil {
			return "", err
		}
		err = e.commit(ctx, "create record", func(c *cache.Store, q *queue.Queue) error {
			if err := q.Remove(ctx, op.Seq); err != nil {
				return err
			}
			err := c.ReplaceRecordID(ctx, op.EntityID, sr.ID)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return q.Enqueue(ctx, models.NewDeleteRecordOp(op.ParentID, sr.ID))
			}
			if err != nil {
				return err
			}
			if _, err := q.RemapEntity(ctx, op.EntityID, sr.ID); err != nil {
				return err
			}
			return e.settleRecord(ctx, c, q, sr)
		})
		if err != nil {
			return "", err
		}
		return sr.ID, nil

	case models.OperationUpdate:
		sr, err := e.gateway.UpdateRecord(ctx, op.ParentID, op.EntityID, *op.Payload.Record)
		if err != nil {
			return "", err
		}
		return "", e.commit(ctx, "update record", func(c *cache.Store, q *queue.Queue) error {
			if err := q.Remove(ctx, op.Seq); err != nil {
				return err
			}
			return e.settleRecord(ctx, c, q, sr)
		})

	case models.OperationDelete:
		if err := e.gateway.DeleteRecord(ctx, op.ParentID, op.EntityID); err != nil && !remote.IsNotFound(err) {
			return "", err
		}
		return "", e.commit(ctx, "delete record", func(c *cache.Store, q *queue.Queue) error {
			if _, err := q.Cancel(ctx, op.EntityID); err != nil {
				return err
			}
			return c.DeleteRecord(ctx, op.EntityID)
		})
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "unknown operation kind %q", op.Kind)
}

// commit runs fn in one transaction against tx-bound cache and queue.
func (e *Engine) commit(ctx context.Context, what string, fn func(c *cache.Store, q *queue.Queue) error) error {
	err := e.store.WithTx(ctx, func(tx db.Store) error {
		return fn(e.cache.With(tx), e.queue.With(tx))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "commit "+what, err)
	}
	return nil
}

// settleProfile applies a server acknowledgement to the cached row. The row
// becomes Synced only when no operation remains queued for it.
func (e *Engine) settleProfile(ctx context.Context, c *cache.Store, q *queue.Queue, sp *remote.ServerProfile) error {
	p, err := c.GetProfile(ctx, sp.ID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	queued, err := q.HasQueued(ctx, sp.ID)
	if err != nil {
		return err
	}
	if queued || p.SyncStatus == models.SyncStatusPendingDelete {
		// The server holds the entity now, even though local changes remain.
		if p.LastSyncedAt != nil {
			return nil
		}
		ts := e.clock().Unix()
		p.LastSyncedAt = &ts
		return c.UpsertProfile(ctx, p)
	}

	if sp.OwnerID != "" {
		p.OwnerID = sp.OwnerID
	}
	if sp.CreatedAt > 0 {
		p.CreatedAt = sp.CreatedAt
	}
	if sp.UpdatedAt > 0 {
		p.UpdatedAt = sp.UpdatedAt
	}
	p.MarkSynced(sp.ContentHash, e.clock())
	return c.UpsertProfile(ctx, p)
}

func (e *Engine) settleRecord(ctx context.Context, c *cache.Store, q *queue.Queue, sr *remote.ServerRecord) error {
	r, err := c.GetRecord(ctx, sr.ID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	queued, err := q.HasQueued(ctx, sr.ID)
	if err != nil {
		return err
	}
	if queued || r.SyncStatus == models.SyncStatusPendingDelete {
		if r.LastSyncedAt != nil {
			return nil
		}
		ts := e.clock().Unix()
		r.LastSyncedAt = &ts
		return c.UpsertRecord(ctx, r)
	}

	if sr.CreatedBy != "" {
		r.CreatedBy = sr.CreatedBy
	}
	if sr.CreatedAt > 0 {
		r.CreatedAt = sr.CreatedAt
	}
	if sr.UpdatedAt > 0 {
		r.UpdatedAt = sr.UpdatedAt
	}
	r.MarkSynced(sr.ContentHash, e.clock())
	return c.UpsertRecord(ctx, r)
}

// =====================================================
// Phase 2: download
// =====================================================

func (e *Engine) download(ctx context.Context, res *SyncResult) error {
	manifest, err := e.gateway.GetManifest(ctx)
	if err != nil {
		code := apperrors.ErrSyncFailed
		if remote.IsUnauthorized(err) {
			code = apperrors.ErrSyncAuthFailed
		}
		return apperrors.Wrap(code, "fetch manifest", err)
	}

	plan, err := e.planProfiles(ctx, manifest)
	if err != nil {
		return err
	}
	res.Conflicts += len(plan.Deferred)

	for _, d := range plan.Delete {
		var (
			removed int64
			gone    bool
			kept    bool
		)
		// The plan is a snapshot; a local edit made since then wins.
		err := e.store.WithTx(ctx, func(tx db.Store) error {
			c, q := e.cache.With(tx), e.queue.With(tx)
			p, err := c.GetProfile(ctx, d.ID)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				gone = true
				return nil
			}
			if err != nil {
				return err
			}
			queued, err := q.HasQueued(ctx, d.ID)
			if err != nil {
				return err
			}
			if queued || p.SyncStatus.IsPending() {
				kept = true
				return nil
			}
			if _, err := q.CancelChildren(ctx, d.ID); err != nil {
				return err
			}
			n, err := c.DeleteProfile(ctx, d.ID)
			removed = n
			return err
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCache, "delete profile "+d.ID, err)
		}
		if gone {
			continue
		}
		if kept {
			res.Conflicts++
			logging.Debug("Kept locally edited profile missing from manifest", map[string]interface{}{"id": d.ID})
			continue
		}
		res.ProfilesDeleted++
		res.RecordsDeleted += int(removed)
		e.metrics.observeReconciled(models.EntityProfile, "delete", 1)
		logging.Debug("Profile removed locally", map[string]interface{}{"id": d.ID, "reason": d.Reason})
	}

	if err := e.fetchProfiles(ctx, plan, res); err != nil {
		return err
	}

	return e.store.SetMetadata(ctx, models.MetaLastManifestServerTime, strconv.FormatInt(manifest.ServerTime, 10), e.clock().Unix())
}

// fetchProfiles downloads the profiles marked for fetch in chunks, commits
// each chunk independently and reconciles the records of every fetched profile.
func (e *Engine) fetchProfiles(ctx context.Context, plan *conflict.Plan, res *SyncResult) error {
	ids := plan.FetchIDs()
	if len(ids) == 0 {
		return nil
	}
	reasons := make(map[string]conflict.Reason, len(plan.Fetch))
	for _, d := range plan.Fetch {
		reasons[d.ID] = d.Reason
	}

	var mu gosync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FetchConcurrency)

	for _, chunk := range chunkIDs(ids, e.opts.BatchSize) {
		chunk := chunk
		g.Go(func() error {
			fetched, err := e.gateway.BatchGetProfiles(gctx, chunk)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrSyncFailed, "batch fetch profiles", err)
			}
			applied, err := e.applyProfiles(gctx, fetched)
			if err != nil {
				return err
			}

			updated, conflicts := 0, len(fetched)-len(applied)
			for _, sp := range applied {
				if reasons[sp.ID] != conflict.ReasonTouched {
					updated++
				}
			}
			mu.Lock()
			res.ProfilesUpdated += updated
			res.Conflicts += conflicts
			mu.Unlock()
			e.metrics.observeReconciled(models.EntityProfile, "fetch", updated)

			for _, sp := range applied {
				if err := e.reconcileRecords(gctx, sp.ID, &mu, res); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// applyProfiles writes fetched profiles as Synced in one transaction and
// returns the ones written. A row that became pending after the manifest was
// classified keeps its local changes, and an id with queued operations is
// left alone.
func (e *Engine) applyProfiles(ctx context.Context, fetched []*remote.ServerProfile) ([]*remote.ServerProfile, error) {
	now := e.clock()
	var applied []*remote.ServerProfile
	err := e.store.WithTx(ctx, func(tx db.Store) error {
		c, q := e.cache.With(tx), e.queue.With(tx)
		for _, sp := range fetched {
			local, err := c.GetProfile(ctx, sp.ID)
			if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			if local != nil && local.SyncStatus.IsPending() {
				continue
			}
			queued, err := q.HasQueued(ctx, sp.ID)
			if err != nil {
				return err
			}
			if queued {
				continue
			}
			if err := c.UpsertProfile(ctx, sp.ToModel(now)); err != nil {
				return err
			}
			applied = append(applied, sp)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCache, "apply fetched profiles", err)
	}
	return applied, nil
}

// reconcileRecords brings the cached records of one profile in line with the
// server listing under the same local-pending-wins rule.
func (e *Engine) reconcileRecords(ctx context.Context, profileID string, mu *gosync.Mutex, res *SyncResult) error {
	serverRecords, err := e.gateway.ListRecords(ctx, profileID)
	if remote.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "list records of "+profileID, err)
	}

	now := e.clock()
	var updated, deleted, deferred int
	err = e.store.WithTx(ctx, func(tx db.Store) error {
		c := e.cache.With(tx)
		local, err := c.ListRecords(ctx, profileID)
		if err != nil {
			return err
		}
		plan := recordPlan(local, serverRecords)
		deferred = len(plan.Deferred)

		for _, d := range plan.Delete {
			if err := c.DeleteRecord(ctx, d.ID); err != nil {
				return err
			}
			deleted++
		}
		byID := make(map[string]*remote.ServerRecord, len(serverRecords))
		for _, sr := range serverRecords {
			byID[sr.ID] = sr
		}
		for _, d := range plan.Fetch {
			if err := c.UpsertRecord(ctx, byID[d.ID].ToModel(now)); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "apply records of "+profileID, err)
	}

	mu.Lock()
	res.RecordsUpdated += updated
	res.RecordsDeleted += deleted
	res.Conflicts += deferred
	mu.Unlock()
	e.metrics.observeReconciled(models.EntityRecord, "fetch", updated)
	e.metrics.observeReconciled(models.EntityRecord, "delete", deleted)
	return nil
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
