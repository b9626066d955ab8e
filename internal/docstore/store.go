// Package docstore is the document database client used by every
// repository. Documents live at slash-separated paths grouped into
// collections; collection subscriptions push the full current state and
// then a new full snapshot after every change.
package docstore

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"

	"github.com/google/uuid"

	"github.com/hongminglow/flatkeeper/internal/errs"
)

// ErrNotFound indicates a document does not exist.
var ErrNotFound = errs.New(errs.CodeNotFound, "document not found")

// ErrAlreadyExists indicates a create hit an existing document.
var ErrAlreadyExists = errs.New(errs.CodeConflict, "document already exists")

// ErrUnavailable indicates the store session is closed or was never opened.
var ErrUnavailable = errs.New(errs.CodeStoreUnavailable, "document store unavailable")

// Fields is a document payload keyed by wire field name.
type Fields map[string]any

// Document is a single stored document.
type Document struct {
	ID   string
	Path string
	Data Fields
}

// Snapshot is the full state of a collection at one point in time. Seq
// increases strictly for every snapshot delivered to a subscriber.
type Snapshot struct {
	Collection string
	Docs       []Document
	Seq        uint64
}

// SetOption tunes Set.
type SetOption func(*SetOptions)

// SetOptions is the resolved form of a Set call's options.
type SetOptions struct {
	Merge bool
}

// Merge makes Set update only the provided fields, creating the document
// if absent.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ApplySetOptions resolves opts. Backends call it from Set.
func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the contract every backend implements.
type Store interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)
	// List returns every document of a collection.
	List(ctx context.Context, collection string) ([]Document, error)
	// Add creates a document with a generated id and returns the id.
	Add(ctx context.Context, collection string, data Fields) (string, error)
	// Create writes a new document, failing with ErrAlreadyExists.
	Create(ctx context.Context, path string, data Fields) error
	// Set overwrites the document, or merges into it with Merge().
	Set(ctx context.Context, path string, data Fields, opts ...SetOption) error
	// Update merges fields into an existing document or returns ErrNotFound.
	Update(ctx context.Context, path string, data Fields) error
	// Delete removes the document; deleting a missing document succeeds.
	Delete(ctx context.Context, path string) error
	// Subscribe streams snapshots of a collection until cancelled.
	Subscribe(ctx context.Context, collection string) (*Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a generated document id.
func NewID() string {
	return uuid.NewString()
}
