package storage

import (
	"context"
	"io"
	"strings"
	"time"
)

// SourceStore defines the read-side operations the engine needs from a
// source provider. One implementation exists per provider kind.
type SourceStore interface {
	// ListObjects streams object metadata under prefix. The error channel
	// carries at most one listing failure, after which the object channel
	// is closed.
	ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error)
	// GetObject reads the whole object into memory.
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	// GetObjectStream opens the object for chunked reading.
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// TargetStore defines the write-side operations against the destination.
type TargetStore interface {
	// StatObject returns metadata for an existing object. A not-found
	// condition is returned as an error.
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// PutObject uploads the object in one request and returns the
	// normalized checksum reported by the store.
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (string, error)
	// PutObjectMultipart uploads the object in partSize chunks and returns
	// the normalized checksum of the assembled object.
	PutObjectMultipart(ctx context.Context, bucket, key string, reader io.Reader, size, partSize int64, opts PutOptions) (string, error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Config contains client configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// NormalizeETag strips surrounding quotes and reduces a multipart composite
// digest ("<md5>-<parts>") to its base digest so checksums from different
// upload paths compare equal.
func NormalizeETag(etag string) string {
	etag = strings.Trim(etag, `"`)

	if idx := strings.LastIndex(etag, "-"); idx > 0 {
		suffix := etag[idx+1:]
		if suffix != "" && isDigits(suffix) {
			return etag[:idx]
		}
	}

	return etag
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
