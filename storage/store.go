package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Object is one stored object's listing entry.
type Object struct {
	Key  string
	Size int64
}

// Store is the boundary to the job-scoped ephemeral object store. Buckets
// are temporary: they hold a job's inputs and result artifacts and are
// destroyed after processing.
type Store interface {
	// Put writes an object, overwriting any existing data at the key.
	Put(ctx context.Context, bucket, key string, data []byte) error

	// ListAll returns every object in the bucket, following continuation
	// tokens until the listing is exhausted.
	ListAll(ctx context.Context, bucket string) ([]Object, error)

	// Fetch returns the object's data, or ErrNotFound.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)

	// DeleteBucket deletes every object in the bucket and then the bucket
	// container itself. Object deletes within a listing page run
	// concurrently; pages are processed sequentially.
	DeleteBucket(ctx context.Context, bucket string) error
}
