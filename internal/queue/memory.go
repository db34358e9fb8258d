package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Memory is an in-process Queue backed by a buffered channel. Jobs do not
// survive a restart; the reconciler re-publishes whatever was lost.
type Memory struct {
	mu     sync.RWMutex
	ch     chan string
	closed bool
}

// NewMemory creates a Memory queue holding up to size pending jobs.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{ch: make(chan string, size)}
}

func (q *Memory) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := h(ctx, id); err != nil {
				log.Error().Err(err).Str("job_id", id).Msg("queue: job handler failed")
			}
		}
	}
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

// Len returns the number of undelivered jobs.
func (q *Memory) Len() int {
	return len(q.ch)
}
