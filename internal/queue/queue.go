// Package queue carries upload job ids from the HTTP handlers to the
// persistence worker. Delivery is at-least-once; consumers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// Handler processes one job id. A returned error negatively acknowledges
// the delivery without requeueing; stale jobs are re-published by the
// reconciler instead of spinning on the broker.
type Handler func(ctx context.Context, jobID string) error

// Queue publishes and consumes job ids.
type Queue interface {
	Publish(ctx context.Context, jobID string) error
	// Consume blocks, dispatching deliveries to h until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// message is the wire body of one delivery.
type message struct {
	JobID string `json:"jobId"`
}

func encode(jobID string) ([]byte, error) {
	b, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("marshal job message: %w", err)
	}
	return b, nil
}

func decode(body []byte) (string, error) {
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("unmarshal job message: %w", err)
	}
	if m.JobID == "" {
		return "", errors.New("job message without id")
	}
	return m.JobID, nil
}
