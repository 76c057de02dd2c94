// Package blobstore is the object-storage gateway used by the pipeline and
// the upload workflow. It exposes the four operations the rest of the program
// needs (list by prefix, get, head, put) behind the Store interface.
//
// Two implementations are provided:
//
//   - S3: any S3-compatible endpoint through minio-go (AWS S3, MinIO, ...).
//   - Local: a directory tree that mimics buckets and keys on disk; used for
//     development runs and tests.
package blobstore

import (
	"context"
	"io"
	"strings"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Bucket       string
	Key          string
	ETag         string // normalized: surrounding quotes removed
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// PutOptions controls object writes.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// SSE requests server-side encryption ("AES256"); empty disables it.
	SSE string
}

// Store is the minimal object-store surface.
type Store interface {
	// List returns every object under prefix, in lexical key order. Paging is
	// handled by the implementation.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	// Get opens the object body for streaming. Callers must Close it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Head returns metadata for key. exists is false (and err nil) when the
	// object is absent.
	Head(ctx context.Context, bucket, key string) (info ObjectInfo, exists bool, err error)
	// Put writes size bytes from body to key.
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opt PutOptions) error
}

// NormalizeETag strips the quotes S3 puts around ETag values.
func NormalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

// URI renders s3://bucket/key.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
