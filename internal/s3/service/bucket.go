package service

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/response"
	"github.com/lk2023060901/nanami/internal/s3/biz"
)

// bucketSubresources select bucket configuration APIs that are not supported
var bucketSubresources = []string{
	"location", "logging", "lifecycle", "website", "acl", "versioning",
	"ownershipControls", "versions", "uploads", "policy", "tagging", "cors",
	"encryption", "notification", "replication", "object-lock",
	"publicAccessBlock", "accelerate", "requestPayment", "analytics",
	"inventory", "metrics", "intelligent-tiering", "delete",
}

// ListBuckets handles GET /
func (s *S3Service) ListBuckets(c *gin.Context) {
	buckets, err := s.buckets.ListBuckets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	res := ListAllMyBucketsResult{
		Xmlns:   s3Namespace,
		Owner:   Owner{ID: ownerID, DisplayName: ownerID},
		Buckets: make([]BucketXML, 0, len(buckets)),
	}
	for _, b := range buckets {
		res.Buckets = append(res.Buckets, BucketXML{Name: b.Name, CreationDate: formatTime(b.CreatedAt)})
	}
	response.XML(c, http.StatusOK, res)
}

// CreateBucket handles PUT /{bucket}
func (s *S3Service) CreateBucket(c *gin.Context) {
	if hasAnyQuery(c, bucketSubresources...) {
		s.notImplemented(c)
		return
	}

	name := c.Param("bucket")
	if _, err := s.buckets.CreateBucket(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Location", "/"+name)
	c.Status(http.StatusOK)
}

// HeadBucket handles HEAD /{bucket}
func (s *S3Service) HeadBucket(c *gin.Context) {
	if _, err := s.buckets.GetBucket(c.Request.Context(), c.Param("bucket")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket}
func (s *S3Service) DeleteBucket(c *gin.Context) {
	if hasAnyQuery(c, bucketSubresources...) {
		s.notImplemented(c)
		return
	}

	if err := s.buckets.DeleteBucket(c.Request.Context(), c.Param("bucket")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetBucket handles GET /{bucket}. Only ListObjects (v1) is supported.
func (s *S3Service) GetBucket(c *gin.Context) {
	if hasAnyQuery(c, bucketSubresources...) || c.Query("list-type") == "2" {
		s.notImplemented(c)
		return
	}
	s.listObjects(c)
}

func (s *S3Service) listObjects(c *gin.Context) {
	name := c.Param("bucket")

	maxKeys := biz.DefaultMaxKeys
	if v, ok := c.GetQuery("max-keys"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, apperrors.New(apperrors.ErrInvalidArgument, "max-keys").WithResource("/"+name))
			return
		}
		maxKeys = min(n, biz.DefaultMaxKeys)
	}

	in := biz.ListObjectsInput{
		Prefix:    c.Query("prefix"),
		Delimiter: c.Query("delimiter"),
		Marker:    c.Query("marker"),
		MaxKeys:   maxKeys,
	}
	res, err := s.buckets.ListObjects(c.Request.Context(), name, in)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := ListBucketResult{
		Xmlns:       s3Namespace,
		Name:        res.Bucket.Name,
		Prefix:      in.Prefix,
		Marker:      in.Marker,
		MaxKeys:     in.MaxKeys,
		Delimiter:   in.Delimiter,
		IsTruncated: res.IsTruncated,
		Contents:    make([]ContentXML, 0, len(res.Objects)),
	}
	if res.IsTruncated {
		out.NextMarker = res.NextMarker
	}
	for i := range res.Objects {
		o := &res.Objects[i]
		out.Contents = append(out.Contents, ContentXML{
			Key:          o.Key,
			LastModified: formatTime(o.LastModified),
			ETag:         o.ETag(),
			Size:         o.Size,
			StorageClass: storageClass,
		})
	}
	for _, p := range res.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, CommonPrefixXML{Prefix: p})
	}
	response.XML(c, http.StatusOK, out)
}
