package upload

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle position of one upload.
type State string

const (
	// StateValidating is never persisted; a job row exists only once intake passed.
	StateValidating  State = "validating"
	StateUploading   State = "uploading"
	StateResponded   State = "responded"
	StatePersisting  State = "persisting"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateFailed      State = "failed"
	StateDeleted     State = "deleted"
)

// allowedFrom lists, per target state, the states a job may leave to reach it.
// A delete may overtake the deferred record patch, so every live state can
// move to StateDeleted.
var allowedFrom = map[State][]State{
	StateResponded:   {StateUploading},
	StatePersisting:  {StateResponded, StatePersisting},
	StateCommitted:   {StatePersisting},
	StateRollingBack: {StateResponded, StatePersisting, StateRollingBack},
	StateRolledBack:  {StateRollingBack},
	StateFailed:      {StateUploading},
	StateDeleted:     {StateUploading, StateResponded, StatePersisting, StateCommitted},
}

// liveStates are the states whose blob must be kept by the orphan sweep.
var liveStates = []State{StateUploading, StateResponded, StatePersisting, StateCommitted}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateFailed, StateDeleted:
		return true
	}
	return false
}

// CanTransition reports whether a job in s may move to next.
func (s State) CanTransition(next State) bool {
	for _, from := range allowedFrom[next] {
		if from == s {
			return true
		}
	}
	return false
}

// Job is the durable record of one upload.
type Job struct {
	ID        string
	UserID    string
	OwnerKind Kind
	OwnerID   string
	BlobID    string
	ImageURL  string
	FileName  string
	MIMEType  string
	SizeBytes int64
	Width     int
	Height    int
	State     State
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner returns the record the job's image belongs to.
func (j *Job) Owner() (Owner, error) {
	return ownerFromRecord(j.OwnerKind, j.OwnerID)
}

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("upload job not found")
	// ErrInvalidTransition is returned when a job is no longer in a state
	// the requested transition may leave from.
	ErrInvalidTransition = errors.New("invalid upload job transition")
	// ErrNotOwner is returned when an image is deleted by someone other
	// than its uploader, or on behalf of a record it was not uploaded to.
	ErrNotOwner = errors.New("image does not belong to the caller")
)

// Ledger persists upload jobs. Transitions are conditional on the current
// state so concurrent workers never move a job twice.
type Ledger interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// GetByBlob fetches the job that stored blobID.
	GetByBlob(ctx context.Context, blobID string) (*Job, error)
	// Transition moves the job to `to` if its state is one of `from`.
	// Entering StatePersisting increments Attempts. An empty lastError keeps
	// the previous one.
	Transition(ctx context.Context, id string, from []State, to State, lastError string) (*Job, error)
	// Touch bumps UpdatedAt without changing state.
	Touch(ctx context.Context, id string) error
	// Stale returns up to limit jobs in one of states not updated since before.
	Stale(ctx context.Context, states []State, before time.Time, limit int) ([]*Job, error)
	// LiveBlobs returns the subset of blobIDs still owned by a non-terminal
	// or committed job.
	LiveBlobs(ctx context.Context, blobIDs []string) (map[string]bool, error)
}

// ownedBy reports whether userID may delete the job's image on behalf of owner.
func (j *Job) ownedBy(userID string, owner Owner) bool {
	return j.UserID == userID && j.OwnerKind == owner.Kind() && j.OwnerID == owner.RecordID()
}
