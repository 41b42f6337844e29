// Package services is the application-facing API over the offline cache.
//
// Every mutation writes the cache row and enqueues the matching pending
// operation in one transaction, then requests a background sync pass. Reads
// come straight from the cache. When the local store fails, calls go to the
// remote gateway directly so the user-visible operation can still succeed.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/kimhsiao/cutlog/internal/cache"
	"github.com/kimhsiao/cutlog/internal/db"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/remote"
	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
)

// Trigger requests a background sync pass without blocking.
type Trigger interface {
	Trigger() bool
}

// Backend bundles the collaborators shared by the services.
type Backend struct {
	Store   db.Store
	Cache   *cache.Store
	Queue   *queue.Queue
	Gateway remote.Gateway
	// Trigger is optional.
	Trigger Trigger
	Now     func() time.Time
}

// NewBackend wires the services to the cache and queue of engine.
func NewBackend(store db.Store, engine *syncpkg.Engine, gateway remote.Gateway, trigger Trigger) Backend {
	return Backend{
		Store:   store,
		Cache:   engine.Cache(),
		Queue:   engine.Queue(),
		Gateway: gateway,
		Trigger: trigger,
		Now:     time.Now,
	}
}

func (b Backend) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b Backend) trigger() {
	if b.Trigger != nil {
		b.Trigger.Trigger()
	}
}

// withTx runs fn with a cache and queue bound to one transaction.
func (b Backend) withTx(ctx context.Context, fn func(c *cache.Store, q *queue.Queue) error) error {
	return b.Store.WithTx(ctx, func(tx db.Store) error {
		return fn(b.Cache.With(tx), b.Queue.With(tx))
	})
}

// localFailure reports whether err is a failure of the local store rather
// than a rejection of the caller's input.
func localFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrNotFound, apperrors.ErrInvalid:
		return false
	}
	return true
}

func logFallback(op string, err error) {
	logging.Warn("Local store failed, calling remote directly", map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	})
}

func remoteError(op string, err error) error {
	if remote.IsNotFound(err) {
		return apperrors.Wrap(apperrors.ErrNotFound, op, err)
	}
	if remote.IsPermanent(err) {
		return apperrors.Wrap(apperrors.ErrRemoteRejected, op, err)
	}
	return apperrors.Wrap(apperrors.ErrRemote, op, err)
}
