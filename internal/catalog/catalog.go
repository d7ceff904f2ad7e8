// Package catalog holds the video catalog record and the store contract the
// ingestion consumer writes through and the query service reads from.
package catalog

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidID reports an identifier outside the store's key space.
var ErrInvalidID = errors.New("invalid video id")

// Video is one catalog record.
type Video struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is the persistent catalog. Implementations must be safe for
// concurrent use.
type Store interface {
	List(ctx context.Context) ([]Video, error)
	// Get returns ok=false when no record has the id, including ids that
	// cannot be a key.
	Get(ctx context.Context, id string) (v Video, ok bool, err error)
	// Upsert inserts v unless a record with v.ID exists, in which case it
	// is a no-op reporting created=false.
	Upsert(ctx context.Context, v Video) (created bool, err error)
}

// ParseID converts a hex identifier into the store key.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

// ValidID reports whether id is acceptable as a store key.
func ValidID(id string) bool {
	_, err := ParseID(id)
	return err == nil
}
