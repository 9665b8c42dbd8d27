package data

import (
	"context"
	"time"

	"github.com/lk2023060901/nanami/internal/pkg/database"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"gorm.io/gorm/clause"
)

// BucketRepo implements biz.BucketRepo
type BucketRepo struct {
	db *database.DB
}

// NewBucketRepo creates a bucket repository
func NewBucketRepo(db *database.DB) *BucketRepo {
	return &BucketRepo{db: db}
}

// Create inserts a bucket. On a name conflict (ignoring case) the existing bucket is returned.
func (r *BucketRepo) Create(ctx context.Context, b *biz.Bucket) (*biz.Bucket, bool, error) {
	po := &BucketPO{ID: b.ID, Name: b.Name, CreatedAt: b.CreatedAt}

	res := r.db.GetDBFromContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(po)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := r.GetByName(ctx, b.Name)
		return existing, false, err
	}
	return toBucket(po), true, nil
}

// GetByName finds a bucket by name; citext makes the comparison case-insensitive
func (r *BucketRepo) GetByName(ctx context.Context, name string) (*biz.Bucket, error) {
	var po BucketPO
	if err := r.db.GetDBFromContext(ctx).Where("name = ?", name).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrNoSuchBucket)
		}
		return nil, err
	}
	return toBucket(&po), nil
}

// List returns all buckets ordered by name
func (r *BucketRepo) List(ctx context.Context) ([]*biz.Bucket, error) {
	var pos []BucketPO
	if err := r.db.GetDBFromContext(ctx).Order("name").Find(&pos).Error; err != nil {
		return nil, err
	}

	buckets := make([]*biz.Bucket, len(pos))
	for i := range pos {
		buckets[i] = toBucket(&pos[i])
	}
	return buckets, nil
}

// Delete removes a bucket. The foreign key rejects it while objects still reference it.
func (r *BucketRepo) Delete(ctx context.Context, id string) error {
	res := r.db.GetDBFromContext(ctx).Where("id = ?", id).Delete(&BucketPO{})
	if res.Error != nil {
		if database.IsForeignKeyViolation(res.Error, fkObjectsBucket) {
			return apperrors.Wrap(res.Error, apperrors.ErrBucketNotEmpty)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrNoSuchBucket)
	}
	return nil
}

func toBucket(po *BucketPO) *biz.Bucket {
	return &biz.Bucket{
		ID:        po.ID,
		Name:      po.Name,
		CreatedAt: po.CreatedAt.In(time.UTC),
	}
}
