package data

import (
	"time"

	"gorm.io/datatypes"
)

// BucketPO is a bucket
type BucketPO struct {
	ID        string    `gorm:"type:uuid;primarykey"`
	Name      string    `gorm:"column:name;type:citext;not null;uniqueIndex:UQ_s3_buckets_name"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (BucketPO) TableName() string {
	return "s3_buckets"
}

// ObjectPO is an object; latest_version_id points at its newest version
type ObjectPO struct {
	ID              string  `gorm:"type:uuid;primarykey"`
	BucketID        string  `gorm:"column:bucket_id;type:uuid;not null;uniqueIndex:UQ_s3_objects_bucket_id_object_key,priority:1"`
	ObjectKey       string  `gorm:"column:object_key;type:text;not null;uniqueIndex:UQ_s3_objects_bucket_id_object_key,priority:2"`
	LatestVersionID *string `gorm:"column:latest_version_id;type:uuid"`
}

func (ObjectPO) TableName() string {
	return "s3_objects"
}

// ObjectVersionPO is an object version. content_length = -1 marks a delete marker.
type ObjectVersionPO struct {
	ID            string    `gorm:"type:uuid;primarykey"`
	ObjectID      string    `gorm:"column:object_id;type:uuid;not null;index:idx_s3_object_versions_object_id"`
	ContentLength int64     `gorm:"column:content_length;not null"`
	ContentType   string    `gorm:"column:content_type;type:text;not null"`
	MD5           []byte    `gorm:"column:md5;type:bytea"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ObjectVersionPO) TableName() string {
	return "s3_object_versions"
}

// UpstreamFilePO is a file in upstream storage. It is immutable except for file_ref moves.
type UpstreamFilePO struct {
	ID                 string            `gorm:"type:uuid;primarykey"`
	UpstreamProviderID string            `gorm:"column:upstream_provider_id;type:text;not null"`
	FileRef            string            `gorm:"column:file_ref;type:text;not null"`
	ContentLength      int64             `gorm:"column:content_length;not null"`
	Parameters         datatypes.JSONMap `gorm:"column:parameters;type:jsonb"`
}

func (UpstreamFilePO) TableName() string {
	return "upstream_files"
}

// ObjectPiecePO maps a slice of a version's content to a position in an upstream file
type ObjectPiecePO struct {
	ID              string `gorm:"type:uuid;primarykey"`
	ObjectVersionID string `gorm:"column:object_version_id;type:uuid;not null;index:idx_object_pieces_object_version_id"`
	UpstreamFileID  string `gorm:"column:upstream_file_id;type:uuid;not null;index:idx_object_pieces_upstream_file_id"`
	ContentLength   int64  `gorm:"column:content_length;not null"`
	ObjectOffset    int64  `gorm:"column:object_offset;not null"`
	UpstreamOffset  int64  `gorm:"column:upstream_offset;not null"`
}

func (ObjectPiecePO) TableName() string {
	return "object_pieces"
}
