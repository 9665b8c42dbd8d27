package data

import (
	"context"

	"github.com/lk2023060901/nanami/internal/pkg/database"
)

// UpstreamFileRepo implements biz.UpstreamFileRepo
type UpstreamFileRepo struct {
	db *database.DB
}

// NewUpstreamFileRepo creates an upstream file repository
func NewUpstreamFileRepo(db *database.DB) *UpstreamFileRepo {
	return &UpstreamFileRepo{db: db}
}

// UpdateFileRef records the reference a file moved to upstream
func (r *UpstreamFileRepo) UpdateFileRef(ctx context.Context, fileID, newRef string) error {
	return r.db.GetDBFromContext(ctx).
		Model(&UpstreamFilePO{}).
		Where("id = ?", fileID).
		Update("file_ref", newRef).Error
}
