package artifacts

import (
	"context"
	"time"
)

// Metadata is the row persisted in the artifacts table alongside a
// blob's content, keyed by its SHA-256 hash.
type Metadata struct {
	Hash      string
	MimeType  string
	Size      int64
	CreatedAt time.Time
}

// Repository is the metadata side of the artifact store: the blob store
// (LocalStore) holds bytes, the Repository tracks which hashes exist and
// when they were created, for GC and listing.
type Repository interface {
	// Put records metadata for a hash already written to the blob store.
	// Idempotent: re-recording an existing hash is not an error.
	Put(ctx context.Context, meta Metadata) error

	// Get returns metadata for hash, or ErrNotFound.
	Get(ctx context.Context, hash string) (Metadata, error)

	// List returns every known artifact's metadata.
	List(ctx context.Context) ([]Metadata, error)

	// Delete removes a hash's metadata row. Not an error if absent.
	Delete(ctx context.Context, hash string) error
}
