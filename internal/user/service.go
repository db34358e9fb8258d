package user

import (
	"context"
	"errors"
)

// store is the persistence surface the Service needs.
type store interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Service contains business logic for user lookups.
type Service struct {
	repo store
}

// NewService creates a new user Service.
func NewService(repo store) *Service {
	return &Service{repo: repo}
}

// GetByID returns a user by their ID.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// IsNotFound returns true when the error indicates a user was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
