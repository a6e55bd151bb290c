package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when an object does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore holds uploaded audio files, addressed by their upload path
type ObjectStore interface {
	// Exists reports whether an object is stored at path
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing object returns ErrObjectNotFound.
	Delete(ctx context.Context, path string) error

	// Open streams the object at path
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}
