package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const reconcileBatch = 100

// Reconcile action labels.
const (
	ActionAbandoned   = "abandoned_upload"
	ActionRepublished = "republished"
	ActionExhausted   = "attempts_exhausted"
	ActionRollback    = "rollback_retried"
	ActionOrphan      = "orphan_deleted"
)

// ReconcilerOptions tunes a Reconciler.
type ReconcilerOptions struct {
	// GracePeriod is how long a job may sit in a non-terminal state before it is repaired.
	GracePeriod time.Duration
	// MaxAttempts bounds how many times a record patch is attempted.
	MaxAttempts int
	// SweepOrphans deletes bucket objects no live job references.
	SweepOrphans bool
}

// Report counts what one reconcile pass repaired.
type Report struct {
	Abandoned   int `json:"abandoned"`
	Republished int `json:"republished"`
	Exhausted   int `json:"exhausted"`
	RolledBack  int `json:"rolledBack"`
	Orphans     int `json:"orphans"`
}

// Reconciler repairs jobs left behind by crashes, lost queue messages and
// failed rollbacks.
type Reconciler struct {
	svc  *Service
	opts ReconcilerOptions
	now  func() time.Time
}

// NewReconciler creates a Reconciler over the service's ledger and storage.
func NewReconciler(svc *Service, opts ReconcilerOptions) *Reconciler {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Reconciler{svc: svc, opts: opts, now: time.Now}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("reconcile pass failed")
				continue
			}
			log.Debug().Interface("report", report).Msg("reconcile pass done")
		}
	}
}

// RunOnce performs a single reconcile pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	cutoff := r.now().Add(-r.opts.GracePeriod)

	if err := r.abandoned(ctx, cutoff, &report); err != nil {
		return report, err
	}
	if err := r.pending(ctx, cutoff, &report); err != nil {
		return report, err
	}
	if err := r.rollingBack(ctx, cutoff, &report); err != nil {
		return report, err
	}
	if r.opts.SweepOrphans {
		if err := r.orphans(ctx, cutoff, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// abandoned fails jobs whose process died mid-upload and removes any blob that landed.
func (r *Reconciler) abandoned(ctx context.Context, cutoff time.Time, report *Report) error {
	jobs, err := r.svc.ledger.Stale(ctx, []State{StateUploading}, cutoff, reconcileBatch)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		delCtx, cancel := r.svc.storageContext(ctx)
		err := r.svc.store.Delete(delCtx, job.BlobID)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("delete abandoned blob")
			continue
		}
		_, err = r.svc.transition(ctx, job, StateFailed, errors.New("abandoned during upload"))
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
		if err == nil {
			report.Abandoned++
			r.svc.metrics.Reconciled.WithLabelValues(ActionAbandoned).Inc()
		}
	}
	return nil
}

// pending re-publishes record patches that never completed, rolling back
// once the attempt budget is spent.
func (r *Reconciler) pending(ctx context.Context, cutoff time.Time, report *Report) error {
	jobs, err := r.svc.ledger.Stale(ctx, []State{StateResponded, StatePersisting}, cutoff, reconcileBatch)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Attempts >= r.opts.MaxAttempts {
			cause := fmt.Errorf("record patch not committed after %d attempts", job.Attempts)
			done, err := r.svc.rollback(ctx, job, cause)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			report.Exhausted++
			r.svc.metrics.Reconciled.WithLabelValues(ActionExhausted).Inc()
			continue
		}
		if err := r.svc.queue.Publish(ctx, job.ID); err != nil {
			return fmt.Errorf("republish job %s: %w", job.ID, err)
		}
		if err := r.svc.ledger.Touch(ctx, job.ID); err != nil {
			return err
		}
		report.Republished++
		r.svc.metrics.Reconciled.WithLabelValues(ActionRepublished).Inc()
	}
	return nil
}

// rollingBack retries compensating deletes that failed earlier.
func (r *Reconciler) rollingBack(ctx context.Context, cutoff time.Time, report *Report) error {
	jobs, err := r.svc.ledger.Stale(ctx, []State{StateRollingBack}, cutoff, reconcileBatch)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		done, err := r.svc.rollback(ctx, job, nil)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		report.RolledBack++
		r.svc.metrics.Reconciled.WithLabelValues(ActionRollback).Inc()
	}
	return nil
}

// orphans deletes stored objects older than cutoff that no live job owns.
func (r *Reconciler) orphans(ctx context.Context, cutoff time.Time, report *Report) error {
	objects, err := r.svc.store.List(ctx, cutoff)
	if err != nil {
		return err
	}
	for start := 0; start < len(objects); start += reconcileBatch {
		end := min(start+reconcileBatch, len(objects))
		ids := make([]string, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, obj.Key)
		}

		live, err := r.svc.ledger.LiveBlobs(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if live[id] {
				continue
			}
			delCtx, cancel := r.svc.storageContext(ctx)
			err := r.svc.store.Delete(delCtx, id)
			cancel()
			if err != nil {
				log.Error().Err(err).Str("blob_id", id).Msg("delete orphaned blob")
				continue
			}
			log.Info().Str("blob_id", id).Msg("deleted orphaned blob")
			report.Orphans++
			r.svc.metrics.Reconciled.WithLabelValues(ActionOrphan).Inc()
		}
	}
	return nil
}
