package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pawdirectory/media/internal/metrics"
	"github.com/pawdirectory/media/internal/queue"
	"github.com/pawdirectory/media/internal/storage"
)

// DefaultStorageTimeout bounds one storage call when Options leaves it unset.
const DefaultStorageTimeout = 30 * time.Second

// UpstreamError wraps a storage failure surfaced to the client as 502.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upload failed: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Request is a validated upload.
type Request struct {
	UserID string
	Owner  Owner
	Image  *Image
}

// Result is returned to the client once the blob is stored.
type Result struct {
	JobID    string
	FileID   string
	ImageURL string
	Name     string
}

// Options tunes a Service.
type Options struct {
	StorageTimeout time.Duration
}

// Service runs the upload pipeline: store the blob, hand the record patch
// to the queue, and compensate when the patch fails.
type Service struct {
	store   storage.Storage
	ledger  Ledger
	records Records
	queue   queue.Queue
	metrics *metrics.Metrics

	storageTimeout time.Duration
}

// NewService creates a new upload Service.
func NewService(store storage.Storage, ledger Ledger, records Records, q queue.Queue, m *metrics.Metrics, opts Options) *Service {
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		store:          store,
		ledger:         ledger,
		records:        records,
		queue:          q,
		metrics:        m,
		storageTimeout: opts.StorageTimeout,
	}
}

// storageContext detaches the storage call from the client connection; a
// disconnect must not leave a half-written blob without a ledger outcome.
func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
}

// Upload records the job, stores the blob and marks the job responded.
// The record patch is not performed here; call Enqueue once the response
// has been written.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	blobID := xid.New().String()
	job := &Job{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		OwnerKind: req.Owner.Kind(),
		OwnerID:   req.Owner.RecordID(),
		BlobID:    blobID,
		ImageURL:  s.store.PublicURL(blobID),
		FileName:  req.Image.Name,
		MIMEType:  req.Image.MIME,
		SizeBytes: req.Image.Size(),
		Width:     req.Image.Width,
		Height:    req.Image.Height,
		State:     StateUploading,
	}
	logger := log.Ctx(ctx).With().Str("job_id", job.ID).Str("blob_id", blobID).Logger()
	// once a job row exists its outcome must be recorded even if the client goes away
	ctx = logger.WithContext(context.WithoutCancel(ctx))

	if err := s.ledger.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("record upload job: %w", err)
	}
	logTransition(ctx, job, StateValidating, nil)
	s.metrics.Transitions.WithLabelValues(string(StateUploading)).Inc()

	upCtx, cancel := s.storageContext(ctx)
	err := s.store.Upload(upCtx, blobID, bytes.NewReader(req.Image.Data), req.Image.Size(), req.Image.MIME)
	cancel()
	if err != nil {
		// a timed-out PUT may still have landed
		delCtx, cancel := s.storageContext(ctx)
		if delErr := s.store.Delete(delCtx, blobID); delErr != nil {
			logger.Warn().Err(delErr).Msg("cleanup after failed upload")
		}
		cancel()
		if _, tErr := s.transition(ctx, job, StateFailed, err); tErr != nil {
			logger.Error().Err(tErr).Msg("record failed upload")
		}
		return nil, &UpstreamError{Err: err}
	}
	s.metrics.UploadBytes.Add(float64(job.SizeBytes))

	if _, err := s.transition(ctx, job, StateResponded, nil); err != nil {
		// without the transition the reconciler would treat the blob as abandoned
		delCtx, cancel := s.storageContext(ctx)
		defer cancel()
		if delErr := s.store.Delete(delCtx, blobID); delErr != nil {
			logger.Error().Err(delErr).Msg("cleanup after ledger failure")
		}
		return nil, fmt.Errorf("mark upload responded: %w", err)
	}

	return &Result{
		JobID:    job.ID,
		FileID:   blobID,
		ImageURL: job.ImageURL,
		Name:     job.FileName,
	}, nil
}

// Enqueue hands the record patch for jobID to the queue. A failed publish
// is logged only: the job stays responded and the reconciler re-publishes it.
func (s *Service) Enqueue(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	if err := s.queue.Publish(ctx, jobID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("job_id", jobID).Msg("enqueue record patch")
	}
}

// Persist is the queue handler: it patches the owner record and commits the
// job, or rolls the blob back when the patch fails. Redelivery of a job that
// already reached a terminal state is a no-op, except that a deleted job
// detaches its image again.
func (s *Service) Persist(ctx context.Context, jobID string) error {
	job, err := s.ledger.Get(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		log.Ctx(ctx).Warn().Str("job_id", jobID).Msg("dropping unknown upload job")
		return nil
	}
	if err != nil {
		return err
	}

	logger := log.Ctx(ctx).With().Str("job_id", job.ID).Str("blob_id", job.BlobID).Logger()
	ctx = logger.WithContext(ctx)

	switch job.State {
	case StateRollingBack:
		_, err := s.rollback(ctx, job, nil)
		return err
	case StateDeleted:
		return s.detachDeleted(ctx, job)
	case StateResponded, StatePersisting:
	default:
		logger.Debug().Str("state", string(job.State)).Msg("skipping upload job")
		return nil
	}

	owner, err := job.Owner()
	if err != nil {
		_, err = s.rollback(ctx, job, err)
		return err
	}

	job, err = s.transition(ctx, job, StatePersisting, nil)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.records.Attach(ctx, owner, job.ImageURL); err != nil {
		_, err = s.rollback(ctx, job, fmt.Errorf("attach image to %s %s: %w", owner.Kind(), owner.RecordID(), err))
		return err
	}

	_, err = s.transition(ctx, job, StateCommitted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	// the image was deleted while the patch ran; the delete's detach may have
	// come before our attach
	current, err := s.ledger.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.State == StateDeleted {
		logger.Info().Msg("image deleted before its record patch committed")
		return s.detachDeleted(ctx, current)
	}
	return nil
}

// rollback deletes the blob of a job whose record patch failed and reports
// whether the job reached rolled_back. If the delete fails the job stays
// rolling_back and the reconciler retries.
func (s *Service) rollback(ctx context.Context, job *Job, cause error) (bool, error) {
	logger := log.Ctx(ctx)
	if job.State != StateRollingBack {
		next, err := s.transition(ctx, job, StateRollingBack, cause)
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		job = next
	}

	delCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.store.Delete(delCtx, job.BlobID); err != nil {
		logger.Error().
			AnErr("cause", cause).
			AnErr("rollback_error", err).
			Str("job_id", job.ID).
			Msg("rollback failed, blob left for reconciliation")
		return false, nil
	}

	if _, err := s.transition(ctx, job, StateRolledBack, cause); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	logger.Warn().AnErr("cause", cause).Str("job_id", job.ID).Msg("upload rolled back")
	return true, nil
}

// Delete removes the blob referenced by imageURL and detaches it from owner.
// An image recorded in the ledger may only be deleted by its uploader and
// only from the record it was uploaded to. Deleting an already deleted image
// succeeds.
func (s *Service) Delete(ctx context.Context, userID string, owner Owner, imageURL string) error {
	blobID, err := storage.FileIDFromURL(imageURL)
	if err != nil {
		return err
	}
	logger := log.Ctx(ctx).With().Str("blob_id", blobID).Str("owner", string(owner.Kind())).Logger()
	ctx = logger.WithContext(ctx)

	job, err := s.ledger.GetByBlob(ctx, blobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		// stored before the ledger existed; nothing to check against
	case err != nil:
		return fmt.Errorf("look up upload job: %w", err)
	case !job.ownedBy(userID, owner):
		logger.Warn().Str("job_id", job.ID).Str("user_id", userID).Msg("delete rejected, image owned elsewhere")
		return ErrNotOwner
	case job.State.CanTransition(StateDeleted):
		// fences off a record patch that has not committed yet
		_, err := s.transition(ctx, job, StateDeleted, nil)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
	}

	delCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.store.Delete(delCtx, blobID); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}

	if err := s.records.Detach(ctx, owner, imageURL); err != nil {
		return fmt.Errorf("detach image: %w", err)
	}
	logger.Info().Msg("image deleted")
	return nil
}

// detachDeleted removes the reference a record patch may have added after
// the job's image was deleted.
func (s *Service) detachDeleted(ctx context.Context, job *Job) error {
	owner, err := job.Owner()
	if err != nil {
		return err
	}
	if err := s.records.Detach(ctx, owner, job.ImageURL); err != nil {
		return fmt.Errorf("detach deleted image: %w", err)
	}
	return nil
}

// Warmup opens a connection to the storage backend.
func (s *Service) Warmup(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return s.store.Ping(pingCtx)
}

// transition moves job to `to`, logging the change and counting it.
func (s *Service) transition(ctx context.Context, job *Job, to State, cause error) (*Job, error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	next, err := s.ledger.Transition(ctx, job.ID, allowedFrom[to], to, msg)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("job_id", job.ID).
			Str("from", string(job.State)).
			Str("to", string(to)).
			Msg("upload job transition rejected")
		return nil, err
	}
	logTransition(ctx, next, job.State, cause)
	s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	return next, nil
}

func logTransition(ctx context.Context, job *Job, from State, cause error) {
	var ev *zerolog.Event
	if cause != nil {
		ev = log.Ctx(ctx).Warn().AnErr("cause", cause)
	} else {
		ev = log.Ctx(ctx).Info()
	}
	ev.Str("job_id", job.ID).
		Str("blob_id", job.BlobID).
		Str("owner", string(job.OwnerKind)).
		Str("from", string(from)).
		Str("to", string(job.State)).
		Int("attempts", job.Attempts).
		Msg("upload job transition")
}
