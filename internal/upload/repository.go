package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, user_id, owner_kind, owner_id, blob_id, image_url, file_name,
	mime_type, size_bytes, width, height, state, attempts, last_error, created_at, updated_at`

// Repository is the PostgreSQL Ledger.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var kind, state string
	err := row.Scan(&j.ID, &j.UserID, &kind, &j.OwnerID, &j.BlobID, &j.ImageURL, &j.FileName,
		&j.MIMEType, &j.SizeBytes, &j.Width, &j.Height, &state, &j.Attempts, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.OwnerKind = Kind(kind)
	j.State = State(state)
	return j, nil
}

func statesParam(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new job and fills in its timestamps.
func (r *Repository) Create(ctx context.Context, job *Job) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO upload_jobs (id, user_id, owner_kind, owner_id, blob_id, image_url, file_name,
		                          mime_type, size_bytes, width, height, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		job.ID, job.UserID, string(job.OwnerKind), job.OwnerID, job.BlobID, job.ImageURL, job.FileName,
		job.MIMEType, job.SizeBytes, job.Width, job.Height, string(job.State),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create upload job: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload job: %w", err)
	}
	return j, nil
}

// GetByBlob fetches the job that stored blobID.
func (r *Repository) GetByBlob(ctx context.Context, blobID string) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM upload_jobs WHERE blob_id = $1`, blobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload job by blob: %w", err)
	}
	return j, nil
}

// Transition conditionally moves a job between states.
func (r *Repository) Transition(ctx context.Context, id string, from []State, to State, lastError string) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx,
		`UPDATE upload_jobs
		 SET state = $2,
		     last_error = COALESCE(NULLIF($3, ''), last_error),
		     attempts = attempts + CASE WHEN $2 = 'persisting' THEN 1 ELSE 0 END,
		     updated_at = NOW()
		 WHERE id = $1 AND state = ANY($4)
		 RETURNING `+jobColumns,
		id, string(to), lastError, statesParam(from)))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("transition upload job to %s: %w", to, err)
	}
	return j, nil
}

// Touch bumps updated_at so the reconciler does not pick the job up again immediately.
func (r *Repository) Touch(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE upload_jobs SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch upload job: %w", err)
	}
	return nil
}

// Stale lists jobs stuck in one of states since before, oldest first.
func (r *Repository) Stale(ctx context.Context, states []State, before time.Time, limit int) ([]*Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM upload_jobs
		 WHERE state = ANY($1) AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		statesParam(states), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale upload jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LiveBlobs returns which of blobIDs are still referenced by a live job.
func (r *Repository) LiveBlobs(ctx context.Context, blobIDs []string) (map[string]bool, error) {
	live := make(map[string]bool, len(blobIDs))
	if len(blobIDs) == 0 {
		return live, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT blob_id FROM upload_jobs
		 WHERE blob_id = ANY($1) AND state = ANY($2)`,
		blobIDs, statesParam(liveStates))
	if err != nil {
		return nil, fmt.Errorf("query live blobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan live blob: %w", err)
		}
		live[id] = true
	}
	return live, rows.Err()
}
