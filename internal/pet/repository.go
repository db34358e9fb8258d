// Package pet persists pet records and their image galleries.
package pet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pawdirectory/media/internal/mongodb"
)

// Pet is the subset of a pet document this service reads and writes.
type Pet struct {
	ID        bson.ObjectID `bson:"_id" json:"id"`
	Name      string        `bson:"name" json:"name"`
	Owner     bson.ObjectID `bson:"owner" json:"owner"`
	Images    []string      `bson:"images" json:"images"`
	UpdatedAt time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// ErrNotFound is returned when a pet does not exist.
var ErrNotFound = errors.New("pet not found")

// Repository handles pet document updates.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a Repository over the pets collection.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.PetsCollection)}
}

// AddImage appends url to the pet's image list. Re-adding the same url is a no-op.
func (r *Repository) AddImage(ctx context.Context, petID, url string) error {
	oid, err := bson.ObjectIDFromHex(petID)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{
			{Key: "$addToSet", Value: bson.D{{Key: "images", Value: url}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("add pet image: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveImage pulls url from the pet's image list. A missing pet or url is not an error.
func (r *Repository) RemoveImage(ctx context.Context, petID, url string) error {
	oid, err := bson.ObjectIDFromHex(petID)
	if err != nil {
		return nil
	}
	_, err = r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{
			{Key: "$pull", Value: bson.D{{Key: "images", Value: url}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("remove pet image: %w", err)
	}
	return nil
}
