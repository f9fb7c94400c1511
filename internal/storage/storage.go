// Package storage defines the blob store contract for raw page archives.
package storage

import "context"

// BlobStore reads and writes raw artifacts by path.
type BlobStore interface {
	// PutObject stores data and returns the URI of the stored object.
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	// GetObject reads an object back by the path used to store it.
	GetObject(ctx context.Context, path string) ([]byte, error)
}
