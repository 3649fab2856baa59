// Package objectstore defines the storage interface checkpoint manifests are
// archived to. The s3 subpackage implements it for S3-compatible services and
// MockStore keeps objects in memory.
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, "checkpoints/nightly/0001.json", r, size, "application/json")
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("objectstore: store is closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key  string
	Size int64
	// LastModified is a Unix timestamp in milliseconds.
	LastModified int64
	Metadata     map[string]string
}

// Store is the interface for object storage operations. Implementations must
// be safe for concurrent use.
type Store interface {
	// Put stores an object. size must match the bytes reader yields.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error

	// Get retrieves an entire object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	Close() error
}
