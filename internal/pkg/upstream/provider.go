// Package upstream talks to the remote content stores that hold object
// pieces. A Provider accepts uploads as a sequence of fixed-size chunks and
// serves ranged reads of finished files by reference.
package upstream

import (
	"context"
)

// UserAgent is sent on every request to HTTP providers. Overridden at build time.
var UserAgent = "nanami/0.0.0-dev"

// ChunkInfo describes one chunk accepted by a provider
type ChunkInfo struct {
	Start  int64 // offset within the upstream file
	Length int
	MD5    [16]byte
}

// Provider is a remote content store
type Provider interface {
	// ID is the stable identifier recorded with every file stored here
	ID() string
	// StartUpload opens an upload session. sizeHint is the expected file size,
	// or -1 when unknown.
	StartUpload(ctx context.Context, sizeHint int64) (UploadSession, error)
	// ReadChunk returns at most maxLength bytes of file ref starting at
	// offset. It may return fewer bytes than requested, and returns an empty
	// slice when offset is at or past the end of the data it serves.
	ReadChunk(ctx context.Context, ref string, offset, maxLength int64) ([]byte, error)
}

// UploadSession is a single upload in progress. It is owned by one writer
// and is not safe for concurrent use.
type UploadSession interface {
	// ChunkSize is the exact size of every appended chunk except the last
	ChunkSize() int
	// Append uploads the next chunk. len(p) must not exceed ChunkSize. p is
	// not retained after Append returns.
	Append(ctx context.Context, p []byte) error
	// Finalize completes the upload and returns the file reference
	Finalize(ctx context.Context, name string) (string, error)
	// Chunks lists the chunks accepted so far, in order
	Chunks() []ChunkInfo
	// Size is the number of bytes accepted so far
	Size() int64
}

// Aborter is implemented by sessions that can release server side state of
// an upload that will never be finalized.
type Aborter interface {
	Abort(ctx context.Context) error
}
