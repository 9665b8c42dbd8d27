package biz

import (
	"context"
)

// BucketRepo persists buckets
type BucketRepo interface {
	// Create inserts b unless a bucket with the same name ignoring case
	// exists, in which case the existing bucket is returned with created=false
	Create(ctx context.Context, b *Bucket) (bucket *Bucket, created bool, err error)
	// GetByName finds a bucket ignoring case. ErrNoSuchBucket if absent.
	GetByName(ctx context.Context, name string) (*Bucket, error)
	List(ctx context.Context) ([]*Bucket, error)
	// Delete removes an empty bucket. ErrBucketNotEmpty if objects reference it.
	Delete(ctx context.Context, id string) error
}

// ObjectRepo persists objects, their versions and piece placement
type ObjectRepo interface {
	// Ensure returns the object for (bucketID, key), creating it if needed.
	// Safe under concurrent callers.
	Ensure(ctx context.Context, bucketID, key string) (*Object, error)
	// GetLatestVersion returns the latest version of key. ErrNoSuchKey when
	// the object does not exist or has no committed version.
	GetLatestVersion(ctx context.Context, bucketID, key string) (*ObjectVersion, error)
	// CommitVersion writes c and makes c.Version the latest version of the
	// object, in one transaction
	CommitVersion(ctx context.Context, objectID string, c *VersionCommit) error
	// ListPieces returns every piece of a version with its file
	ListPieces(ctx context.Context, versionID string) ([]PieceLocation, error)
	// ListLatest returns up to limit objects whose key starts with prefix and
	// sorts after after (byte order), skipping delete markers
	ListLatest(ctx context.Context, bucketID, prefix, after string, limit int) ([]ObjectEntry, error)
}

// UpstreamFileRepo persists upstream file records
type UpstreamFileRepo interface {
	UpdateFileRef(ctx context.Context, fileID, newRef string) error
}

// BucketCache caches bucket lookups by name. Get returns nil, nil on a miss.
type BucketCache interface {
	Get(ctx context.Context, name string) (*Bucket, error)
	Set(ctx context.Context, b *Bucket) error
	Delete(ctx context.Context, name string) error
}

// EventPublisher delivers object events
type EventPublisher interface {
	PublishObjectCreated(ctx context.Context, ev *ObjectEvent) error
}

// TaskRunner runs work outside the request
type TaskRunner interface {
	Submit(task func()) error
}
