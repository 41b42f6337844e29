// Package conflict classifies remote summaries against the local cache.
//
// The policy is local-pending-wins: a cached entity with unacknowledged local
// changes is never overwritten or removed by remote data. Otherwise the
// server hash wins.
package conflict

import (
	"sort"

	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/models"
)

// Action is what reconciliation does with one entity.
type Action string

const (
	ActionNone        Action = "none"
	ActionFetch       Action = "fetch"
	ActionDeleteLocal Action = "delete_local"
	ActionDefer       Action = "defer"
)

// Reason explains an Action.
type Reason string

const (
	ReasonUnchanged     Reason = "unchanged"
	ReasonNew           Reason = "new"
	ReasonChanged       Reason = "changed"
	ReasonTouched       Reason = "touched"
	ReasonDeletedRemote Reason = "deleted_remote"
	ReasonMissingRemote Reason = "missing_remote"
	ReasonLocalPending  Reason = "local_pending"
)

// Remote is the server's summary of one entity.
type Remote struct {
	ID          string
	ContentHash string
	UpdatedAt   int64
	IsDeleted   bool
}

// Local is the cache's view of one entity.
type Local struct {
	ID          string
	ContentHash string
	UpdatedAt   int64
	Status      models.SyncStatus
}

// LocalProfile projects a cached profile.
func LocalProfile(p *models.Profile) Local {
	return Local{ID: p.ID, ContentHash: p.ContentHash, UpdatedAt: p.UpdatedAt, Status: p.SyncStatus}
}

// LocalRecord projects a cached record.
func LocalRecord(r *models.Record) Local {
	return Local{ID: r.ID, ContentHash: r.ContentHash, UpdatedAt: r.UpdatedAt, Status: r.SyncStatus}
}

// Decision is the classification of one entity.
type Decision struct {
	ID     string
	Action Action
	Reason Reason
}

// Plan is the outcome of classifying a full remote listing.
type Plan struct {
	// Fetch holds entities to download, in remote listing order.
	Fetch []Decision
	// Delete holds locally synced entities to purge, sorted by id.
	Delete []Decision
	// Deferred holds remote differences ignored because the local row is pending.
	Deferred []Decision
	// Unchanged counts entities already matching the server.
	Unchanged int
}

// FetchIDs returns the ids of Fetch.
func (p *Plan) FetchIDs() []string {
	ids := make([]string, len(p.Fetch))
	for i, d := range p.Fetch {
		ids[i] = d.ID
	}
	return ids
}

// Resolver classifies remote listings.
type Resolver struct {
	entity models.EntityKind
}

// NewResolver creates a Resolver for one entity kind. The kind only labels logs.
func NewResolver(entity models.EntityKind) *Resolver {
	return &Resolver{entity: entity}
}

// Classify decides what to do with a single entity. local or remote may be nil.
func (r *Resolver) Classify(local *Local, remote *Remote) Decision {
	switch {
	case remote == nil && local == nil:
		return Decision{Action: ActionNone, Reason: ReasonUnchanged}

	case remote == nil:
		if local.Status.IsPending() {
			return Decision{ID: local.ID, Action: ActionNone, Reason: ReasonLocalPending}
		}
		return Decision{ID: local.ID, Action: ActionDeleteLocal, Reason: ReasonMissingRemote}

	case local == nil:
		if remote.IsDeleted {
			return Decision{ID: remote.ID, Action: ActionNone, Reason: ReasonUnchanged}
		}
		return Decision{ID: remote.ID, Action: ActionFetch, Reason: ReasonNew}
	}

	differs := remote.IsDeleted || remote.ContentHash != local.ContentHash
	if local.Status.IsPending() {
		if differs {
			return Decision{ID: local.ID, Action: ActionDefer, Reason: ReasonLocalPending}
		}
		return Decision{ID: local.ID, Action: ActionNone, Reason: ReasonLocalPending}
	}

	switch {
	case remote.IsDeleted:
		return Decision{ID: local.ID, Action: ActionDeleteLocal, Reason: ReasonDeletedRemote}
	case remote.ContentHash != local.ContentHash:
		return Decision{ID: local.ID, Action: ActionFetch, Reason: ReasonChanged}
	case remote.UpdatedAt > local.UpdatedAt:
		return Decision{ID: local.ID, Action: ActionFetch, Reason: ReasonTouched}
	}
	return Decision{ID: local.ID, Action: ActionNone, Reason: ReasonUnchanged}
}

// Plan classifies every remote entry and every local entity missing from it.
func (r *Resolver) Plan(local []Local, remote []Remote) *Plan {
	localByID := make(map[string]*Local, len(local))
	for i := range local {
		localByID[local[i].ID] = &local[i]
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(remote))
	for i := range remote {
		entry := &remote[i]
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		r.add(plan, r.Classify(localByID[entry.ID], entry))
	}

	var missing []string
	for id := range localByID {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		r.add(plan, r.Classify(localByID[id], nil))
	}

	if len(plan.Deferred) > 0 {
		ids := make([]string, len(plan.Deferred))
		for i, d := range plan.Deferred {
			ids[i] = d.ID
		}
		logging.Info("Remote changes deferred, local changes pending", map[string]interface{}{
			"entity": r.entity,
			"ids":    ids,
		})
	}
	return plan
}

func (r *Resolver) add(plan *Plan, d Decision) {
	switch d.Action {
	case ActionFetch:
		plan.Fetch = append(plan.Fetch, d)
	case ActionDeleteLocal:
		plan.Delete = append(plan.Delete, d)
	case ActionDefer:
		plan.Deferred = append(plan.Deferred, d)
	default:
		if d.Reason == ReasonUnchanged && d.ID != "" {
			plan.Unchanged++
		}
	}
}
