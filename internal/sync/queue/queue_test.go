// Package queue provides unit tests for the pending operation queue.
package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/db"
	"github.com/kimhsiao/cutlog/internal/models"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*Queue, *testClock) {
	t.Helper()
	database, err := db.OpenAndMigrate(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(database.DB)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})

	clock := &testClock{t: time.Unix(1700000000, 0)}
	q := New(repo, Policy{MaxRetries: 3, BaseBackoff: time.Minute, MaxBackoff: 10 * time.Minute})
	q.SetClock(clock.Now)
	return q, clock
}

func createOp(id string) *models.PendingOperation {
	return models.NewCreateProfileOp(&models.Profile{ID: id, Name: "Profile " + id})
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxRetries: 8, BaseBackoff: 30 * time.Second, MaxBackoff: time.Hour}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 30*time.Second, p.Backoff(1))
	assert.Equal(t, time.Minute, p.Backoff(2))
	assert.Equal(t, 2*time.Minute, p.Backoff(3))
	assert.Equal(t, time.Hour, p.Backoff(20))
	assert.Equal(t, time.Hour, p.Backoff(1000), "large counts must not overflow")
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	op := createOp("p1")
	require.NoError(t, q.Enqueue(ctx, op))

	assert.NotZero(t, op.Seq)
	assert.Equal(t, models.OperationStatusPending, op.Status)
	assert.Equal(t, 3, op.MaxRetries)
	assert.Equal(t, clock.Now().Unix(), op.CreatedAt)
	assert.Equal(t, clock.Now().Unix(), op.NextRetryAt)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestEnqueueRejectsInvalidOperation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	op := createOp("p1")
	op.Payload = models.OperationPayload{}
	assert.Error(t, q.Enqueue(ctx, op))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestListAllIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, q.Enqueue(ctx, createOp(id)))
	}

	ops, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "c", ops[0].EntityID)
	assert.Equal(t, "a", ops[1].EntityID)
	assert.Equal(t, "b", ops[2].EntityID)
}

// A failed operation keeps its place: after both fail and their backoff
// elapses, A is still offered before B.
func TestFailedOperationsKeepFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, createOp("A")))
	require.NoError(t, q.Enqueue(ctx, createOp("B")))

	ready, err := q.Ready(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 2)

	// Fail B first, then A, so update order differs from enqueue order.
	_, err = q.MarkFailed(ctx, ready[1], errors.New("timeout"), false)
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, ready[0], errors.New("timeout"), false)
	require.NoError(t, err)

	ready, err = q.Ready(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready, "both are backing off")

	clock.Advance(time.Minute)
	ready, err = q.Ready(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "A", ready[0].EntityID)
	assert.Equal(t, "B", ready[1].EntityID)
}

func TestMarkFailedBacksOffAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	op := createOp("p1")
	require.NoError(t, q.Enqueue(ctx, op))

	dead, err := q.MarkFailed(ctx, op, errors.New("503"), false)
	require.NoError(t, err)
	assert.False(t, dead)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, clock.Now().Add(time.Minute).Unix(), op.NextRetryAt)
	assert.Equal(t, "503", op.LastError)

	dead, err = q.MarkFailed(ctx, op, errors.New("503"), false)
	require.NoError(t, err)
	assert.False(t, dead)
	assert.Equal(t, clock.Now().Add(2*time.Minute).Unix(), op.NextRetryAt)

	dead, err = q.MarkFailed(ctx, op, errors.New("503"), false)
	require.NoError(t, err)
	assert.True(t, dead, "third failure reaches MaxRetries")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Pending: 0, Dead: 1}, stats)

	clock.Advance(24 * time.Hour)
	ready, err := q.Ready(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready, "dead operations are never dispatched")
}

func TestMarkFailedPermanentDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	op := createOp("p1")
	require.NoError(t, q.Enqueue(ctx, op))

	dead, err := q.MarkFailed(ctx, op, errors.New("422 invalid"), true)
	require.NoError(t, err)
	assert.True(t, dead)

	deadOps, err := q.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, deadOps, 1)
	assert.Equal(t, "422 invalid", deadOps[0].LastError)
}

func TestRetryDead(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	op := createOp("p1")
	require.NoError(t, q.Enqueue(ctx, op))
	_, err := q.MarkFailed(ctx, op, errors.New("rejected"), true)
	require.NoError(t, err)

	n, err := q.RetryDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, err := q.Ready(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Zero(t, ready[0].RetryCount)
	assert.Empty(t, ready[0].LastError)
}

func TestRemapEntityAndCancel(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, createOp("tmp-123")))
	child := models.NewCreateRecordOp(&models.Record{ID: "tmp-r", ProfileID: "tmp-123", OccurredAt: 1})
	require.NoError(t, q.Enqueue(ctx, child))

	n, err := q.RemapEntity(ctx, "tmp-123", "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	queued, err := q.HasQueued(ctx, "srv-1")
	require.NoError(t, err)
	assert.True(t, queued)

	ops, err := q.ForEntity(ctx, "tmp-r")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "srv-1", ops[0].ParentID)

	n, err = q.CancelChildren(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = q.Cancel(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	queued, err = q.HasQueued(ctx, "srv-1")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	op := createOp("p1")
	require.NoError(t, q.Enqueue(ctx, op))

	clock.Advance(time.Second)
	op.Payload.Profile.Name = "edited"
	require.NoError(t, q.Update(ctx, op))

	ops, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "edited", ops[0].Payload.Profile.Name)
	assert.Equal(t, clock.Now().Unix(), ops[0].UpdatedAt)

	require.NoError(t, q.Remove(ctx, op.Seq))
	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestWithBindsTransaction(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	boom := errors.New("boom")

	err := q.store.WithTx(ctx, func(tx db.Store) error {
		if err := q.With(tx).Enqueue(ctx, createOp("p1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}
