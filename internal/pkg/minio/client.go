package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client wraps the MinIO core client bound to a single bucket
type Client struct {
	core   *minio.Core
	config *Config
	logger *zap.Logger
}

// NewClient creates a new MinIO client
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidArgument
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	switch cfg.BucketLookup {
	case BucketLookupDNS:
		opts.BucketLookup = minio.BucketLookupDNS
	case BucketLookupPath:
		opts.BucketLookup = minio.BucketLookupPath
	default:
		opts.BucketLookup = minio.BucketLookupAuto
	}
	if cfg.RequestTimeout > 0 {
		transport, err := minio.DefaultTransport(cfg.UseSSL)
		if err != nil {
			return nil, WrapErrorWithMessage("NewClient", err, "failed to create transport")
		}
		transport.ResponseHeaderTimeout = cfg.RequestTimeout
		opts.Transport = http.RoundTripper(transport)
	}

	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "failed to create minio client")
	}

	logger.Info("minio client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
		zap.Bool("use_ssl", cfg.UseSSL),
	)

	return &Client{core: core, config: cfg, logger: logger}, nil
}

// Bucket returns the bucket this client writes to
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// ObjectName returns the full object name for key
func (c *Client) ObjectName(key string) string {
	return c.config.Prefix + key
}

// Ping checks that the configured bucket is reachable
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.core.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return WrapError("Ping", err, c.config.Bucket, "")
	}
	if !ok {
		return WrapError("Ping", ErrBucketNotFound, c.config.Bucket, "")
	}
	return nil
}

// EnsureBucket creates the configured bucket when it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.core.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return WrapError("EnsureBucket", err, c.config.Bucket, "")
	}
	if ok {
		return nil
	}
	err = c.core.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil {
		return WrapError("EnsureBucket", err, c.config.Bucket, "")
	}
	c.logger.Info("minio bucket created", zap.String("bucket", c.config.Bucket))
	return nil
}

// NewMultipartUpload starts a multipart upload of object
func (c *Client) NewMultipartUpload(ctx context.Context, object string) (string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, c.config.Bucket, object, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", WrapError("NewMultipartUpload", err, c.config.Bucket, object)
	}
	return uploadID, nil
}

// PutPart uploads one part and returns its ETag
func (c *Client) PutPart(ctx context.Context, object, uploadID string, partNumber int, data io.Reader, size int64, md5Base64 string) (string, error) {
	part, err := c.core.PutObjectPart(ctx, c.config.Bucket, object, uploadID, partNumber, data, size,
		minio.PutObjectPartOptions{Md5Base64: md5Base64})
	if err != nil {
		return "", WrapError("PutObjectPart", err, c.config.Bucket, object)
	}
	return part.ETag, nil
}

// CompleteMultipartUpload assembles the uploaded parts
func (c *Client) CompleteMultipartUpload(ctx context.Context, object, uploadID string, etags []string) error {
	parts := make([]minio.CompletePart, len(etags))
	for i, etag := range etags {
		parts[i] = minio.CompletePart{PartNumber: i + 1, ETag: etag}
	}
	if _, err := c.core.CompleteMultipartUpload(ctx, c.config.Bucket, object, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return WrapError("CompleteMultipartUpload", err, c.config.Bucket, object)
	}
	return nil
}

// AbortMultipartUpload discards an unfinished upload
func (c *Client) AbortMultipartUpload(ctx context.Context, object, uploadID string) error {
	if err := c.core.AbortMultipartUpload(ctx, c.config.Bucket, object, uploadID); err != nil {
		return WrapError("AbortMultipartUpload", err, c.config.Bucket, object)
	}
	return nil
}

// GetRange reads up to length bytes of object starting at offset. Reading at
// or past the end of the object returns no data and no error.
func (c *Client) GetRange(ctx context.Context, object string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, WrapError("GetObject", err, c.config.Bucket, object)
	}

	body, _, _, err := c.core.GetObject(ctx, c.config.Bucket, object, opts)
	if err != nil {
		if IsInvalidRange(err) {
			return nil, nil
		}
		return nil, WrapError("GetObject", err, c.config.Bucket, object)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, length))
	if err != nil {
		return nil, WrapError("GetObject", fmt.Errorf("read body: %w", err), c.config.Bucket, object)
	}
	return data, nil
}
