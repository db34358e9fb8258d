package upload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(h *harness, sweep bool) *Reconciler {
	return NewReconciler(h.svc, ReconcilerOptions{
		GracePeriod:  10 * time.Minute,
		MaxAttempts:  3,
		SweepOrphans: sweep,
	})
}

func TestReconcileAbandonedUpload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"stale", "fresh"} {
		require.NoError(t, h.ledger.Create(ctx, &Job{
			ID: id, OwnerKind: KindProfile, OwnerID: testUserID, BlobID: "blob-" + id, State: StateUploading,
		}))
		require.NoError(t, h.store.Upload(ctx, "blob-"+id, strings.NewReader("x"), 1, "image/png"))
	}
	h.ledger.age("stale", time.Hour)

	report, err := newTestReconciler(h, false).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Abandoned: 1}, report)

	assert.Equal(t, StateFailed, h.ledger.state(t, "stale"))
	assert.False(t, h.store.Has("blob-stale"))
	assert.Equal(t, StateUploading, h.ledger.state(t, "fresh"))
	assert.True(t, h.store.Has("blob-fresh"))
}

func TestReconcileRepublishesLostJob(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("broker down")
	jobID, _ := acceptUpload(t, h)
	h.queue.err = nil
	h.ledger.age(jobID, time.Hour)

	rec := newTestReconciler(h, false)
	report, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Republished: 1}, report)
	assert.Equal(t, []string{jobID}, h.queue.published())

	// the touch keeps the next pass from publishing it again
	report, err = rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)

	h.drain(t)
	assert.Equal(t, StateCommitted, h.ledger.state(t, jobID))
}

func TestReconcileExhaustedAttemptsRollBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	jobID, fileID := acceptUpload(t, h)

	for i := 0; i < 3; i++ {
		_, err := h.ledger.Transition(ctx, jobID, allowedFrom[StatePersisting], StatePersisting, "")
		require.NoError(t, err)
	}
	h.ledger.age(jobID, time.Hour)

	report, err := newTestReconciler(h, false).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Exhausted: 1}, report)

	job, err := h.ledger.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateRolledBack, job.State)
	assert.Contains(t, job.LastError, "3 attempts")
	assert.False(t, h.store.Has(fileID))
	assert.Empty(t, h.queue.published()[1:], "exhausted jobs are not republished")
}

func TestReconcileRetriesRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	jobID, fileID := acceptUpload(t, h)

	h.records.attachErr = errors.New("pet not found")
	h.store.deleteErr = errors.New("storage timeout")
	require.NoError(t, h.svc.Persist(ctx, jobID))
	require.Equal(t, StateRollingBack, h.ledger.state(t, jobID))
	h.ledger.age(jobID, time.Hour)

	rec := newTestReconciler(h, false)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report, "delete still failing")

	h.store.deleteErr = nil
	report, err = rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{RolledBack: 1}, report)
	job, err := h.ledger.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateRolledBack, job.State)
	assert.Contains(t, job.LastError, "pet not found")
	assert.False(t, h.store.Has(fileID))
}

func TestReconcileSweepsOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	jobID, kept := acceptUpload(t, h)
	h.drain(t)
	require.Equal(t, StateCommitted, h.ledger.state(t, jobID))
	require.NoError(t, h.store.Upload(ctx, "orphan", strings.NewReader("x"), 1, "image/png"))

	h.store.SetClock(time.Now)
	require.NoError(t, h.store.Upload(ctx, "recent", strings.NewReader("x"), 1, "image/png"))

	report, err := newTestReconciler(h, false).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Orphans, "sweep disabled")
	assert.True(t, h.store.Has("orphan"))

	report, err = newTestReconciler(h, true).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	assert.False(t, h.store.Has("orphan"))
	assert.True(t, h.store.Has(kept))
	assert.True(t, h.store.Has("recent"), "objects younger than the grace period are kept")
}

func TestReconcilerRunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestReconciler(h, false).Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
