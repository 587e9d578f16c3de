// Package storage publishes rendered charts to durable object storage so
// they outlive the API container's local output directory.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ImmutableCacheControl suits chart objects: every chart file name is unique
// and never rewritten.
const ImmutableCacheControl = "private, max-age=31536000, immutable"

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	// ContentType is derived from the key's extension when empty.
	ContentType  string
	CacheControl string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// ContentTypeFor guesses a MIME type from the key's extension.
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
