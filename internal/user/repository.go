// Package user manages user records and their profile image.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pawdirectory/media/internal/mongodb"
)

// User represents a registered directory user.
type User struct {
	ID           bson.ObjectID `bson:"_id" json:"id"`
	Name         string        `bson:"name" json:"name"`
	Email        string        `bson:"email" json:"email"`
	ProfileImage string        `bson:"profileImage,omitempty" json:"profileImage,omitempty"`
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// Repository handles all user database operations.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a new Repository over the users collection.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.UsersCollection)}
}

// GetByID fetches a user by their hex ObjectID.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	u := &User{}
	err = r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// SetProfileImage overwrites the user's profile image url.
func (r *Repository) SetProfileImage(ctx context.Context, id, url string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "profileImage", Value: url},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("set profile image: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearProfileImage unsets the profile image only while it still equals url,
// so removing a stale image never clears a newer one.
func (r *Repository) ClearProfileImage(ctx context.Context, id, url string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}, {Key: "profileImage", Value: url}},
		bson.D{
			{Key: "$unset", Value: bson.D{{Key: "profileImage", Value: ""}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("clear profile image: %w", err)
	}
	return nil
}
