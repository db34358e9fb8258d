package upload

import (
	"context"
	"fmt"
)

// Records attaches image URLs to, and detaches them from, owner records.
type Records interface {
	Attach(ctx context.Context, owner Owner, url string) error
	Detach(ctx context.Context, owner Owner, url string) error
}

// PetImages is implemented by pet.Repository.
type PetImages interface {
	AddImage(ctx context.Context, petID, url string) error
	RemoveImage(ctx context.Context, petID, url string) error
}

// BusinessImages is implemented by business.Repository.
type BusinessImages interface {
	AddImage(ctx context.Context, userID, url string) error
	RemoveImage(ctx context.Context, userID, url string) error
}

// ProfileImages is implemented by user.Repository.
type ProfileImages interface {
	SetProfileImage(ctx context.Context, userID, url string) error
	ClearProfileImage(ctx context.Context, userID, url string) error
}

// OwnerRecords routes each Owner variant to its repository.
type OwnerRecords struct {
	Pets       PetImages
	Businesses BusinessImages
	Users      ProfileImages
}

func (r *OwnerRecords) Attach(ctx context.Context, owner Owner, url string) error {
	switch o := owner.(type) {
	case PetOwner:
		return r.Pets.AddImage(ctx, o.PetID, url)
	case BusinessOwner:
		return r.Businesses.AddImage(ctx, o.UserID, url)
	case ProfileOwner:
		return r.Users.SetProfileImage(ctx, o.UserID, url)
	default:
		return fmt.Errorf("attach image: unsupported owner %T", owner)
	}
}

func (r *OwnerRecords) Detach(ctx context.Context, owner Owner, url string) error {
	switch o := owner.(type) {
	case PetOwner:
		return r.Pets.RemoveImage(ctx, o.PetID, url)
	case BusinessOwner:
		return r.Businesses.RemoveImage(ctx, o.UserID, url)
	case ProfileOwner:
		return r.Users.ClearProfileImage(ctx, o.UserID, url)
	default:
		return fmt.Errorf("detach image: unsupported owner %T", owner)
	}
}
