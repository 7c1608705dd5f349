package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionConflict = errors.New("document version conflict")
)

const (
	CollListings    = "listings"
	CollOffers      = "offers"
	CollContracts   = "contracts"
	CollArchive     = "dep_contracts"
	CollDeals       = "deals"
	CollIdempotency = "idempotency_records"
)

type Document struct {
	ID      string
	Version int64
	Body    []byte
}

// Eq is an equality predicate on a top-level string field of the document body.
type Eq struct {
	Field string
	Value string
}

// DocStore is the entity store collaborator: per-document CRUD and equality
// queries with no cross-document atomicity. Versions start at 1 and are
// bumped by every successful Update.
type DocStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection, id string, body []byte) error
	// Update replaces the body only when the stored version equals expected.
	Update(ctx context.Context, collection, id string, expected int64, body []byte) (int64, error)
	Delete(ctx context.Context, collection, id string) error
	Find(ctx context.Context, collection string, where ...Eq) ([]Document, error)
}
