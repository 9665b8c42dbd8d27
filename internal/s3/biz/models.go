package biz

import (
	"encoding/hex"
	"time"
)

// DefaultContentType is recorded for objects uploaded without a Content-Type
const DefaultContentType = "application/octet-stream"

// Bucket is a named container of objects. Names are unique ignoring case.
type Bucket struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Object is a key within a bucket. LatestVersionID is nil until the first
// version has been committed.
type Object struct {
	ID              string
	BucketID        string
	Key             string
	LatestVersionID *string
}

// ObjectVersion is one immutable revision of an object's content
type ObjectVersion struct {
	ID            string
	ObjectID      string
	ContentLength int64 // -1 marks a delete marker
	ContentType   string
	MD5           []byte
	CreatedAt     time.Time
}

// IsDeleteMarker reports whether the version records a deletion
func (v *ObjectVersion) IsDeleteMarker() bool {
	return v.ContentLength == -1
}

// ETag is the quoted hex MD5 of the content
func (v *ObjectVersion) ETag() string {
	return `"` + hex.EncodeToString(v.MD5) + `"`
}

// UpstreamFile is a finished file held by an upstream provider
type UpstreamFile struct {
	ID            string
	ProviderID    string
	FileRef       string
	ContentLength int64
	Parameters    map[string]any
}

// ObjectPiece maps [ObjectOffset, ObjectOffset+ContentLength) of a version
// onto an upstream file starting at UpstreamOffset
type ObjectPiece struct {
	ID              string
	ObjectVersionID string
	UpstreamFileID  string
	ContentLength   int64
	ObjectOffset    int64
	UpstreamOffset  int64
}

// End is the exclusive end of the piece within the object
func (p *ObjectPiece) End() int64 {
	return p.ObjectOffset + p.ContentLength
}

// PieceLocation is a piece together with the file holding its bytes
type PieceLocation struct {
	ObjectPiece
	File UpstreamFile
}

// VersionCommit is everything written atomically when a version is created.
// File is nil for empty content.
type VersionCommit struct {
	Version *ObjectVersion
	File    *UpstreamFile
	Pieces  []ObjectPiece
}

// ObjectEntry is a listing row: an object and its latest version
type ObjectEntry struct {
	Key          string
	Size         int64
	MD5          []byte
	LastModified time.Time
}

// ETag is the quoted hex MD5 of the content
func (e *ObjectEntry) ETag() string {
	return `"` + hex.EncodeToString(e.MD5) + `"`
}

// ObjectEvent is published after a version has been committed
type ObjectEvent struct {
	Event     string    `json:"event"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	VersionID string    `json:"version_id"`
	Size      int64     `json:"size"`
	ETag      string    `json:"etag"`
	Time      time.Time `json:"time"`
}

// EventObjectCreatedPut is the event name of a committed PutObject
const EventObjectCreatedPut = "s3:ObjectCreated:Put"
