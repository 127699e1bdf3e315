// Package storage defines the blob-store contract used to publish headshots.
// Backends (Google Cloud Storage, Amazon S3, the local filesystem and memory)
// live in subpackages and classify their failures with the sentinels below so
// callers can decide what is worth retrying.
package storage

import (
	"context"
	"errors"
)

// BlobStore writes immutable objects and exposes the public base URL under
// which they can be read.
type BlobStore interface {
	// PutObject stores data under key. Either the whole object becomes
	// readable or the call fails and nothing is addressable under key.
	PutObject(ctx context.Context, key string, contentType string, data []byte) error
	// PublicBaseURL is the unescaped URL prefix objects are served from,
	// without a trailing slash. Public read access is a deploy-time
	// precondition; stores never change ACLs.
	PublicBaseURL() string
}

var (
	// ErrUnauthorized marks credential and permission failures. Retrying
	// will not help.
	ErrUnauthorized = errors.New("storage: unauthorized")
	// ErrBucketNotFound marks a missing bucket or container.
	ErrBucketNotFound = errors.New("storage: bucket not found")
	// ErrTransient marks throttling, timeouts and server-side failures.
	ErrTransient = errors.New("storage: transient failure")
	// ErrInvalidKey marks an empty or unsafe object key.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Retryable reports whether a PutObject error may succeed on another attempt.
// Unclassified errors are treated as retryable; the caller bounds attempts.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBucketNotFound), errors.Is(err, ErrInvalidKey):
		return false
	default:
		return true
	}
}
