package service

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"go.uber.org/zap"
)

// objectWriteSubresources select object APIs that are not supported on PUT
var objectWriteSubresources = []string{
	"acl", "legal-hold", "retention", "tagging", "renameObject", "partNumber", "uploadId",
}

// objectReadSubresources select object APIs that are not supported on GET
var objectReadSubresources = []string{
	"acl", "legal-hold", "retention", "tagging", "torrent", "attributes", "uploadId", "versionId",
}

// GetObject handles GET /{bucket}/{key}
func (s *S3Service) GetObject(c *gin.Context) {
	key := objectKey(c)
	if key == "" {
		s.GetBucket(c)
		return
	}
	if hasAnyQuery(c, objectReadSubresources...) {
		s.notImplemented(c)
		return
	}

	ctx := c.Request.Context()
	out, err := s.objects.GetObject(ctx, &biz.GetObjectInput{
		Bucket: c.Param("bucket"),
		Key:    key,
		Range:  biz.ParseRange(c.GetHeader("Range")),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	writeObjectHeaders(c, out)
	c.Writer.WriteHeaderNow()

	n, err := out.Reader.Stream(ctx, c.Writer)
	if err != nil {
		// the status line is gone; the short body tells the client
		s.logger.WithContext(ctx).Warn("object stream interrupted",
			zap.String("bucket", out.Bucket.Name),
			zap.String("key", key),
			zap.Int64("sent", n),
			zap.Int64("length", out.Length()),
			zap.Error(err))
		_ = c.Error(err)
		c.Abort()
	}
}

// HeadObject handles HEAD /{bucket}/{key}
func (s *S3Service) HeadObject(c *gin.Context) {
	key := objectKey(c)
	if key == "" {
		s.HeadBucket(c)
		return
	}

	out, err := s.objects.HeadObject(c.Request.Context(), &biz.GetObjectInput{
		Bucket: c.Param("bucket"),
		Key:    key,
		Range:  biz.ParseRange(c.GetHeader("Range")),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	writeObjectHeaders(c, out)
}

func writeObjectHeaders(c *gin.Context, out *biz.GetObjectOutput) {
	h := c.Writer.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", out.Version.ContentType)
	h.Set("Content-Length", strconv.FormatInt(out.Length(), 10))
	h.Set("ETag", out.Version.ETag())
	h.Set("Last-Modified", out.Version.CreatedAt.UTC().Format(http.TimeFormat))

	status := http.StatusOK
	if out.Ranged {
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", out.Start, out.End-1, out.Total))
	}
	c.Status(status)
}

// PutObject handles PUT /{bucket}/{key}
func (s *S3Service) PutObject(c *gin.Context) {
	key := objectKey(c)
	if key == "" {
		s.CreateBucket(c)
		return
	}
	if hasAnyQuery(c, objectWriteSubresources...) || c.GetHeader("x-amz-copy-source") != "" {
		s.notImplemented(c)
		return
	}

	bucket := c.Param("bucket")
	// net/http reports -1 when the body is not length delimited
	if c.Request.ContentLength < 0 {
		s.fail(c, apperrors.New(apperrors.ErrMissingContentLength).WithResource("/"+bucket+"/"+key))
		return
	}

	v, err := s.objects.PutObject(c.Request.Context(), &biz.PutObjectInput{
		Bucket:        bucket,
		Key:           key,
		Body:          c.Request.Body,
		ContentLength: c.Request.ContentLength,
		ContentType:   c.GetHeader("Content-Type"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("ETag", v.ETag())
	c.Status(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key}. Deleting objects is not
// supported; a trailing slash addresses the bucket.
func (s *S3Service) DeleteObject(c *gin.Context) {
	if objectKey(c) == "" {
		s.DeleteBucket(c)
		return
	}
	s.notImplemented(c)
}
