package biz

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"go.uber.org/zap"
)

// Bucket names are matched ignoring case, so upper case letters are allowed
var bucketNameRegexp = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]{0,61}[A-Za-z0-9])?$`)

// ValidBucketName reports whether name may be used for a new bucket
func ValidBucketName(name string) bool {
	return bucketNameRegexp.MatchString(name) && !strings.Contains(name, "..")
}

// BucketUseCase contains bucket business logic
type BucketUseCase struct {
	repo    BucketRepo
	objects ObjectRepo
	cache   BucketCache
	logger  *logger.Logger
}

// NewBucketUseCase creates a bucket use case. cache may be nil.
func NewBucketUseCase(repo BucketRepo, objects ObjectRepo, cache BucketCache, log *logger.Logger) *BucketUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &BucketUseCase{repo: repo, objects: objects, cache: cache, logger: log}
}

// CreateBucket creates a bucket. Creating a bucket whose name differs from an
// existing one only by case returns the existing bucket.
func (uc *BucketUseCase) CreateBucket(ctx context.Context, name string) (*Bucket, error) {
	if !ValidBucketName(name) {
		return nil, apperrors.New(apperrors.ErrInvalidBucketName).WithResource("/" + name)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "generate bucket id")
	}

	b, created, err := uc.repo.Create(ctx, &Bucket{ID: id.String(), Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "create bucket")
	}
	if created {
		uc.logger.WithContext(ctx).Info("bucket created", zap.String("bucket", b.Name), zap.String("id", b.ID))
	}
	return b, nil
}

// GetBucket resolves a bucket by name ignoring case
func (uc *BucketUseCase) GetBucket(ctx context.Context, name string) (*Bucket, error) {
	if uc.cache != nil {
		b, err := uc.cache.Get(ctx, name)
		if err != nil {
			uc.logger.WithContext(ctx).Warn("bucket cache get failed", zap.String("bucket", name), zap.Error(err))
		} else if b != nil {
			return b, nil
		}
	}

	b, err := uc.repo.GetByName(ctx, name)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSuchBucket) {
			return nil, apperrors.New(apperrors.ErrNoSuchBucket).WithResource("/" + name)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "get bucket")
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, b); err != nil {
			uc.logger.WithContext(ctx).Warn("bucket cache set failed", zap.String("bucket", name), zap.Error(err))
		}
	}
	return b, nil
}

// ListBuckets lists all buckets ordered by name
func (uc *BucketUseCase) ListBuckets(ctx context.Context) ([]*Bucket, error) {
	buckets, err := uc.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "list buckets")
	}
	return buckets, nil
}

// DeleteBucket deletes an empty bucket
func (uc *BucketUseCase) DeleteBucket(ctx context.Context, name string) error {
	b, err := uc.GetBucket(ctx, name)
	if err != nil {
		return err
	}

	if err := uc.repo.Delete(ctx, b.ID); err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrBucketNotEmpty):
			return apperrors.New(apperrors.ErrBucketNotEmpty).WithResource("/" + name)
		case apperrors.Is(err, apperrors.ErrNoSuchBucket):
			// deleted concurrently
		default:
			return apperrors.Wrap(err, apperrors.ErrInternal, "delete bucket")
		}
	}

	uc.forget(ctx, name)
	uc.logger.WithContext(ctx).Info("bucket deleted", zap.String("bucket", b.Name), zap.String("id", b.ID))
	return nil
}

// forget drops a cached bucket that turned out to be gone
func (uc *BucketUseCase) forget(ctx context.Context, name string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Delete(ctx, name); err != nil {
		uc.logger.WithContext(ctx).Warn("bucket cache invalidation failed", zap.String("bucket", name), zap.Error(err))
	}
}
