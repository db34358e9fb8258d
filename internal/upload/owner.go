// Package upload accepts image uploads, stores them in object storage and
// references them from the owning pet, business or user record.
package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names an owner variant on the wire ("type" form field).
type Kind string

const (
	KindPet      Kind = "pet"
	KindBusiness Kind = "business"
	KindProfile  Kind = "profile"
)

var (
	// ErrInvalidOwnerType is returned for a missing or unknown "type" field.
	ErrInvalidOwnerType = errors.New("type must be one of: pet, business, profile")
	// ErrMissingPetID is returned when type=pet arrives without petId.
	ErrMissingPetID = errors.New("petId is required when type is pet")
)

// Owner is the record an image belongs to. It is a closed set: PetOwner,
// BusinessOwner and ProfileOwner.
type Owner interface {
	Kind() Kind
	// RecordID is the key of the owning record: the pet id for pets, the
	// user id for businesses and profiles.
	RecordID() string
	isOwner()
}

// PetOwner references a pet's image gallery.
type PetOwner struct{ PetID string }

// BusinessOwner references the gallery of the business owned by UserID.
type BusinessOwner struct{ UserID string }

// ProfileOwner references the single profile image of UserID.
type ProfileOwner struct{ UserID string }

func (PetOwner) Kind() Kind      { return KindPet }
func (BusinessOwner) Kind() Kind { return KindBusiness }
func (ProfileOwner) Kind() Kind  { return KindProfile }

func (o PetOwner) RecordID() string      { return o.PetID }
func (o BusinessOwner) RecordID() string { return o.UserID }
func (o ProfileOwner) RecordID() string  { return o.UserID }

func (PetOwner) isOwner()      {}
func (BusinessOwner) isOwner() {}
func (ProfileOwner) isOwner()  {}

// ParseOwner builds an Owner from the wire fields and the authenticated user.
func ParseOwner(kind, petID, userID string) (Owner, error) {
	switch Kind(strings.TrimSpace(kind)) {
	case KindPet:
		petID = strings.TrimSpace(petID)
		if petID == "" {
			return nil, ErrMissingPetID
		}
		return PetOwner{PetID: petID}, nil
	case KindBusiness:
		return BusinessOwner{UserID: userID}, nil
	case KindProfile:
		return ProfileOwner{UserID: userID}, nil
	default:
		return nil, ErrInvalidOwnerType
	}
}

// ownerFromRecord rebuilds an Owner from its persisted kind and record id.
func ownerFromRecord(kind Kind, recordID string) (Owner, error) {
	switch kind {
	case KindPet:
		return PetOwner{PetID: recordID}, nil
	case KindBusiness:
		return BusinessOwner{UserID: recordID}, nil
	case KindProfile:
		return ProfileOwner{UserID: recordID}, nil
	default:
		return nil, fmt.Errorf("unknown owner kind %q", kind)
	}
}
