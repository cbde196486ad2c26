package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrObjectNotFound is returned when a requested object does not exist in
	// the object store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrOutsideProcessingWindow is returned when a distribution run is
	// invoked outside the valid two-hourly processing window. It is fatal:
	// proceeding would declare a wrong-period batch.
	ErrOutsideProcessingWindow = errors.New("invoked outside processing window")

	// ErrInvalidLimit is returned by the submission fairness limiter when the
	// bucket granularity is not positive.
	ErrInvalidLimit = errors.New("invalid limit argument")

	// ErrStateCorrupted is returned when a persisted cursor record cannot be
	// decoded. It is fatal: resuming from a corrupt cursor risks skipping or
	// replaying unbounded amounts of data.
	ErrStateCorrupted = errors.New("batch state corrupted")
)

// ObjectSummary describes an object in an ObjectStore without its content.
type ObjectSummary struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore provides key-addressed object storage with prefix listing.
type ObjectStore interface {
	// List returns summaries of all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectSummary, error)

	// Get retrieves an object's content. Returns ErrObjectNotFound if the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores an object, overwriting any existing content at key.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes an object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
