// Package service exposes the S3 REST API over gin.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/response"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"go.uber.org/zap"
)

// S3Service handles S3 API requests
type S3Service struct {
	buckets *biz.BucketUseCase
	objects *biz.ObjectUseCase
	logger  *logger.Logger
}

// NewS3Service creates the S3 handlers
func NewS3Service(buckets *biz.BucketUseCase, objects *biz.ObjectUseCase, log *logger.Logger) *S3Service {
	if log == nil {
		log = logger.Nop()
	}
	return &S3Service{buckets: buckets, objects: objects, logger: log}
}

// RegisterRoutes mounts the S3 API at the root of r. Keys are the rest of the
// path after the bucket.
func (s *S3Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/", s.ListBuckets)

	r.GET("/:bucket", s.GetBucket)
	r.HEAD("/:bucket", s.HeadBucket)
	r.PUT("/:bucket", s.CreateBucket)
	r.DELETE("/:bucket", s.DeleteBucket)
	r.POST("/:bucket", s.notImplemented)

	r.GET("/:bucket/*key", s.GetObject)
	r.HEAD("/:bucket/*key", s.HeadObject)
	r.PUT("/:bucket/*key", s.PutObject)
	r.DELETE("/:bucket/*key", s.DeleteObject)
	r.POST("/:bucket/*key", s.notImplemented)
}

// objectKey returns the key param without its leading slash
func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// fail renders err. Server side failures are logged with their cause; the
// client only sees the S3 error code.
func (s *S3Service) fail(c *gin.Context, err error) {
	ctx := c.Request.Context()
	log := s.logger.WithContext(ctx)

	if errors.Is(err, context.Canceled) {
		log.Debug("request cancelled by client", zap.String("path", c.Request.URL.Path))
		c.Abort()
		return
	}

	code := apperrors.ExtractCode(err)
	if apperrors.IsServerError(code) {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	_ = c.Error(err)
	response.HandleError(c, err)
	c.Abort()
}

func (s *S3Service) notImplemented(c *gin.Context) {
	response.ErrorWithCode(c, apperrors.ErrNotImplemented, c.Request.URL.Path)
	c.Abort()
}

// hasAnyQuery reports whether any of names is present in the query string,
// with or without a value
func hasAnyQuery(c *gin.Context, names ...string) bool {
	q := c.Request.URL.Query()
	for _, name := range names {
		if _, ok := q[name]; ok {
			return true
		}
	}
	return false
}
