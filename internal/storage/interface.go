// Package storage uploads converted papers to S3-compatible object storage.
// The local artifact directory stays the source of truth; objects here are
// copies for sharing and backup.
package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object storage operations used by the mirror.
type ObjectStorage interface {
	// Upload stores an object, replacing any existing one
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete removes an object
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
