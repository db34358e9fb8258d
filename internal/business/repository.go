// Package business persists business listings and their image galleries.
package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pawdirectory/media/internal/mongodb"
)

// Business is the subset of a business document this service reads and writes.
type Business struct {
	ID        bson.ObjectID `bson:"_id" json:"id"`
	Name      string        `bson:"name" json:"name"`
	Owner     bson.ObjectID `bson:"owner" json:"owner"`
	Images    []string      `bson:"images" json:"images"`
	UpdatedAt time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// ErrNotFound is returned when the user owns no business.
var ErrNotFound = errors.New("business not found")

// Repository handles business document updates. Businesses are addressed
// by their owning user; each user owns at most one.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a Repository over the businesses collection.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.BusinessesCollection)}
}

func ownerFilter(userID string) (bson.D, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "owner", Value: oid}}, nil
}

// AddImage appends url to the image list of the business owned by userID.
func (r *Repository) AddImage(ctx context.Context, userID, url string) error {
	filter, err := ownerFilter(userID)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "images", Value: url}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	})
	if err != nil {
		return fmt.Errorf("add business image: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveImage pulls url from the business owned by userID.
func (r *Repository) RemoveImage(ctx context.Context, userID, url string) error {
	filter, err := ownerFilter(userID)
	if err != nil {
		return nil
	}
	_, err = r.coll.UpdateOne(ctx, filter, bson.D{
		{Key: "$pull", Value: bson.D{{Key: "images", Value: url}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	})
	if err != nil {
		return fmt.Errorf("remove business image: %w", err)
	}
	return nil
}
