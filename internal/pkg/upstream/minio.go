package upstream

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/minio"
	"go.uber.org/zap"
)

// objectStore is the subset of the MinIO client the provider uses
type objectStore interface {
	ObjectName(key string) string
	NewMultipartUpload(ctx context.Context, object string) (string, error)
	PutPart(ctx context.Context, object, uploadID string, partNumber int, data io.Reader, size int64, md5Base64 string) (string, error)
	CompleteMultipartUpload(ctx context.Context, object, uploadID string, etags []string) error
	AbortMultipartUpload(ctx context.Context, object, uploadID string) error
	GetRange(ctx context.Context, object string, offset, length int64) ([]byte, error)
}

var _ objectStore = (*minio.Client)(nil)

// MinIOProvider stores files as multipart objects in an S3 compatible bucket.
// Each session chunk becomes one part, and the object name is the file reference.
type MinIOProvider struct {
	id        string
	store     objectStore
	chunkSize int
	logger    *logger.Logger
}

// NewMinIOProvider creates a provider backed by a MinIO bucket
func NewMinIOProvider(ctx context.Context, id string, cfg ProviderConfig, log *logger.Logger) (*MinIOProvider, error) {
	cfg.Type = TypeMinIO
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("upstream %s: %w", id, err)
	}
	if log == nil {
		log = logger.Nop()
	}

	client, err := minio.NewClient(&cfg.MinIO, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", id, err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("upstream %s: %w", id, err)
	}

	return newMinIOProvider(id, client, cfg.ChunkSize, log), nil
}

func newMinIOProvider(id string, store objectStore, chunkSize int, log *logger.Logger) *MinIOProvider {
	if chunkSize <= 0 {
		chunkSize = defaultMinIOChunkSize
	}
	return &MinIOProvider{
		id:        id,
		store:     store,
		chunkSize: chunkSize,
		logger:    log.With(zap.String("provider", id)),
	}
}

// ID implements Provider
func (p *MinIOProvider) ID() string {
	return p.id
}

// StartUpload implements Provider
func (p *MinIOProvider) StartUpload(ctx context.Context, sizeHint int64) (UploadSession, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, &BackendError{Provider: p.id, Op: "upload start", Err: err}
	}
	object := p.store.ObjectName(id.String())

	uploadID, err := p.store.NewMultipartUpload(ctx, object)
	if err != nil {
		return nil, &BackendError{Provider: p.id, Op: "upload start", Err: err}
	}

	p.logger.Debug("upload session started",
		zap.String("object", object),
		zap.Int64("size_hint", sizeHint),
	)
	return &minioSession{provider: p, object: object, uploadID: uploadID}, nil
}

// ReadChunk implements Provider
func (p *MinIOProvider) ReadChunk(ctx context.Context, ref string, offset, maxLength int64) ([]byte, error) {
	data, err := p.store.GetRange(ctx, ref, offset, maxLength)
	if err != nil {
		return nil, &BackendError{Provider: p.id, Op: "read", Err: err}
	}
	return data, nil
}

type minioSession struct {
	provider *MinIOProvider
	object   string
	uploadID string

	offset    int64
	chunks    []ChunkInfo
	etags     []string
	finalized bool
}

func (s *minioSession) ChunkSize() int { return s.provider.chunkSize }

func (s *minioSession) Size() int64 { return s.offset }

func (s *minioSession) Chunks() []ChunkInfo {
	return append([]ChunkInfo(nil), s.chunks...)
}

func (s *minioSession) Append(ctx context.Context, p []byte) error {
	if s.finalized {
		return ErrSessionFinalized
	}
	if len(p) > s.provider.chunkSize {
		return ErrChunkTooLarge
	}

	sum := md5.Sum(p)
	etag, err := s.provider.store.PutPart(ctx, s.object, s.uploadID, len(s.etags)+1,
		bytes.NewReader(p), int64(len(p)), base64.StdEncoding.EncodeToString(sum[:]))
	if err != nil {
		return &BackendError{Provider: s.provider.id, Op: fmt.Sprintf("upload chunk at %d", s.offset), Err: err}
	}

	s.etags = append(s.etags, etag)
	s.chunks = append(s.chunks, ChunkInfo{Start: s.offset, Length: len(p), MD5: sum})
	s.offset += int64(len(p))
	return nil
}

// Finalize completes the multipart upload. name is only logged: the object
// name was fixed when the upload started.
func (s *minioSession) Finalize(ctx context.Context, name string) (string, error) {
	if s.finalized {
		return "", ErrSessionFinalized
	}
	if err := s.provider.store.CompleteMultipartUpload(ctx, s.object, s.uploadID, s.etags); err != nil {
		return "", &BackendError{Provider: s.provider.id, Op: "upload finalize", Err: err}
	}
	s.finalized = true
	s.provider.logger.Debug("upload finalized",
		zap.String("name", name),
		zap.String("ref", s.object),
		zap.Int64("size", s.offset),
		zap.Int("chunks", len(s.chunks)),
	)
	return s.object, nil
}

// Abort implements Aborter
func (s *minioSession) Abort(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	return s.provider.store.AbortMultipartUpload(ctx, s.object, s.uploadID)
}
