package data

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/nanami/internal/pkg/database"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pieceBatchSize = 500
	commitRetries  = 3
)

// ObjectRepo implements biz.ObjectRepo
type ObjectRepo struct {
	db *database.DB
}

// NewObjectRepo creates an object repository
func NewObjectRepo(db *database.DB) *ObjectRepo {
	return &ObjectRepo{db: db}
}

// Ensure returns the object, creating it if needed. The unique constraint keeps concurrent
// first writers to a single row.
func (r *ObjectRepo) Ensure(ctx context.Context, bucketID, key string) (*biz.Object, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	db := r.db.GetDBFromContext(ctx)
	po := &ObjectPO{ID: id.String(), BucketID: bucketID, ObjectKey: key}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket_id"}, {Name: "object_key"}},
		DoNothing: true,
	}).Create(po)
	if res.Error != nil {
		if database.IsForeignKeyViolation(res.Error, fkObjectsBucket) {
			return nil, apperrors.Wrap(res.Error, apperrors.ErrNoSuchBucket)
		}
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		po = &ObjectPO{}
		if err := db.Where("bucket_id = ? AND object_key = ?", bucketID, key).First(po).Error; err != nil {
			return nil, err
		}
	}
	return toObject(po), nil
}

// GetLatestVersion returns the newest version of an object
func (r *ObjectRepo) GetLatestVersion(ctx context.Context, bucketID, key string) (*biz.ObjectVersion, error) {
	var po ObjectVersionPO
	err := r.db.GetDBFromContext(ctx).
		Table("s3_objects AS o").
		Select("v.*").
		Joins("JOIN s3_object_versions AS v ON v.id = o.latest_version_id").
		Where("o.bucket_id = ? AND o.object_key = ?", bucketID, key).
		Take(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrNoSuchKey)
		}
		return nil, err
	}
	return toVersion(&po), nil
}

// CommitVersion writes the version, its upstream file and its pieces, and moves the latest
// version pointer, in one transaction
func (r *ObjectRepo) CommitVersion(ctx context.Context, objectID string, c *biz.VersionCommit) error {
	return r.db.TransactionWithRetry(ctx, commitRetries, func(ctx context.Context, tx *gorm.DB) error {
		v := c.Version
		version := &ObjectVersionPO{
			ID:            v.ID,
			ObjectID:      objectID,
			ContentLength: v.ContentLength,
			ContentType:   v.ContentType,
			MD5:           v.MD5,
			CreatedAt:     v.CreatedAt,
		}
		if err := tx.Create(version).Error; err != nil {
			return err
		}

		if c.File != nil {
			file := &UpstreamFilePO{
				ID:                 c.File.ID,
				UpstreamProviderID: c.File.ProviderID,
				FileRef:            c.File.FileRef,
				ContentLength:      c.File.ContentLength,
				Parameters:         datatypes.JSONMap(c.File.Parameters),
			}
			if err := tx.Create(file).Error; err != nil {
				return err
			}
		}

		if len(c.Pieces) > 0 {
			pieces := make([]ObjectPiecePO, len(c.Pieces))
			for i, p := range c.Pieces {
				pieces[i] = ObjectPiecePO{
					ID:              p.ID,
					ObjectVersionID: v.ID,
					UpstreamFileID:  p.UpstreamFileID,
					ContentLength:   p.ContentLength,
					ObjectOffset:    p.ObjectOffset,
					UpstreamOffset:  p.UpstreamOffset,
				}
			}
			if err := tx.CreateInBatches(pieces, pieceBatchSize).Error; err != nil {
				return err
			}
		}

		return tx.Model(&ObjectPO{}).
			Where("id = ?", objectID).
			Update("latest_version_id", v.ID).Error
	})
}

// ListPieces returns all pieces of a version with their upstream files, ordered by object offset
func (r *ObjectRepo) ListPieces(ctx context.Context, versionID string) ([]biz.PieceLocation, error) {
	db := r.db.GetDBFromContext(ctx)

	var pieces []ObjectPiecePO
	if err := db.Where("object_version_id = ?", versionID).Order("object_offset").Find(&pieces).Error; err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, p := range pieces {
		if _, ok := seen[p.UpstreamFileID]; !ok {
			seen[p.UpstreamFileID] = struct{}{}
			ids = append(ids, p.UpstreamFileID)
		}
	}

	var files []UpstreamFilePO
	if err := db.Where("id IN ?", ids).Find(&files).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]biz.UpstreamFile, len(files))
	for i := range files {
		byID[files[i].ID] = toFile(&files[i])
	}

	out := make([]biz.PieceLocation, 0, len(pieces))
	for _, p := range pieces {
		f, ok := byID[p.UpstreamFileID]
		if !ok {
			continue
		}
		out = append(out, biz.PieceLocation{
			ObjectPiece: biz.ObjectPiece{
				ID:              p.ID,
				ObjectVersionID: p.ObjectVersionID,
				UpstreamFileID:  p.UpstreamFileID,
				ContentLength:   p.ContentLength,
				ObjectOffset:    p.ObjectOffset,
				UpstreamOffset:  p.UpstreamOffset,
			},
			File: f,
		})
	}
	return out, nil
}

type entryRow struct {
	ObjectKey     string
	ContentLength int64
	MD5           []byte `gorm:"column:md5"`
	CreatedAt     time.Time
}

// ListLatest lists latest versions in byte order of key, skipping delete markers
func (r *ObjectRepo) ListLatest(ctx context.Context, bucketID, prefix, after string, limit int) ([]biz.ObjectEntry, error) {
	var rows []entryRow
	err := r.db.GetDBFromContext(ctx).
		Table("s3_objects AS o").
		Select("o.object_key, v.content_length, v.md5, v.created_at").
		Joins("JOIN s3_object_versions AS v ON v.id = o.latest_version_id").
		Where("o.bucket_id = ? AND v.content_length >= 0", bucketID).
		Scopes(
			database.WhereIf(prefix != "", `o.object_key LIKE ? ESCAPE '\'`, database.EscapeLike(prefix)+"%"),
			database.WhereIf(after != "", `o.object_key COLLATE "C" > ?`, after),
			database.Limit(limit),
		).
		Order(`o.object_key COLLATE "C"`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]biz.ObjectEntry, len(rows))
	for i, row := range rows {
		entries[i] = biz.ObjectEntry{
			Key:          row.ObjectKey,
			Size:         row.ContentLength,
			MD5:          row.MD5,
			LastModified: row.CreatedAt.In(time.UTC),
		}
	}
	return entries, nil
}

func toObject(po *ObjectPO) *biz.Object {
	return &biz.Object{
		ID:              po.ID,
		BucketID:        po.BucketID,
		Key:             po.ObjectKey,
		LatestVersionID: po.LatestVersionID,
	}
}

func toVersion(po *ObjectVersionPO) *biz.ObjectVersion {
	return &biz.ObjectVersion{
		ID:            po.ID,
		ObjectID:      po.ObjectID,
		ContentLength: po.ContentLength,
		ContentType:   po.ContentType,
		MD5:           po.MD5,
		CreatedAt:     po.CreatedAt.In(time.UTC),
	}
}

func toFile(po *UpstreamFilePO) biz.UpstreamFile {
	return biz.UpstreamFile{
		ID:            po.ID,
		ProviderID:    po.UpstreamProviderID,
		FileRef:       po.FileRef,
		ContentLength: po.ContentLength,
		Parameters:    map[string]any(po.Parameters),
	}
}
