package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxBatchSize is the document-count bound the backing stores impose on a
// single batched write.
const MaxBatchSize = 500

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnchanged may be returned by an UpdateFunc to abandon an atomic
	// update without writing. AtomicUpdate swallows it and returns nil.
	ErrUnchanged = errors.New("document unchanged")

	// ErrBatchTooLarge indicates a batch exceeding MaxBatchSize documents.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d documents", MaxBatchSize)
)

// UpdateFunc receives the current raw document (nil when the document does
// not exist yet) and returns its replacement. Returning ErrUnchanged skips
// the write; any other error aborts the update and surfaces to the caller.
type UpdateFunc func(current json.RawMessage) (json.RawMessage, error)

// Write is one entry in a batched write. A nil Doc deletes the document.
type Write struct {
	Collection string
	Key        string
	Doc        json.RawMessage
}

// Store is the document store consumed by every component: per-key JSON
// documents grouped into collections, with a linearizable per-document
// read-modify-write and a bounded batched write.
type Store interface {
	// Get returns the raw document, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (json.RawMessage, error)

	// Put creates or replaces the document.
	Put(ctx context.Context, collection, key string, doc json.RawMessage) error

	// AtomicUpdate applies fn to the current document under optimistic
	// concurrency: if another writer lands in between, the document is
	// re-read and fn re-applied.
	AtomicUpdate(ctx context.Context, collection, key string, fn UpdateFunc) error

	// BatchWrite applies up to MaxBatchSize puts/deletes as one batch.
	BatchWrite(ctx context.Context, writes []Write) error

	// Delete removes the document. Deleting an absent document is not an
	// error.
	Delete(ctx context.Context, collection, key string) error
}

// transientError marks a store failure worth retrying (network hiccups,
// driver timeouts). Optimistic-concurrency conflicts are handled inside
// AtomicUpdate and never surface as transient errors.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient store error: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
