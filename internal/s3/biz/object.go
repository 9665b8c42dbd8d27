package biz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"go.uber.org/zap"
)

const backgroundTimeout = 30 * time.Second

// ObjectUseCase contains object business logic
type ObjectUseCase struct {
	buckets  *BucketUseCase
	objects  ObjectRepo
	files    UpstreamFileRepo
	registry *upstream.Registry
	events   EventPublisher
	tasks    TaskRunner
	logger   *logger.Logger
}

// NewObjectUseCase creates an object use case. events and tasks may be nil;
// without tasks background work runs inline.
func NewObjectUseCase(
	buckets *BucketUseCase,
	objects ObjectRepo,
	files UpstreamFileRepo,
	registry *upstream.Registry,
	events EventPublisher,
	tasks TaskRunner,
	log *logger.Logger,
) *ObjectUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &ObjectUseCase{
		buckets:  buckets,
		objects:  objects,
		files:    files,
		registry: registry,
		events:   events,
		tasks:    tasks,
		logger:   log,
	}
}

// PutObjectInput is an object upload
type PutObjectInput struct {
	Bucket        string
	Key           string
	Body          io.Reader
	ContentLength int64
	ContentType   string
}

// PutObject streams the body to the preferred provider and commits it as the
// latest version of the object
func (uc *ObjectUseCase) PutObject(ctx context.Context, in *PutObjectInput) (*ObjectVersion, error) {
	resource := "/" + in.Bucket + "/" + in.Key
	if in.ContentLength < 0 {
		return nil, apperrors.New(apperrors.ErrMissingContentLength).WithResource(resource)
	}

	b, err := uc.buckets.GetBucket(ctx, in.Bucket)
	if err != nil {
		return nil, err
	}

	obj, err := uc.objects.Ensure(ctx, b.ID, in.Key)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSuchBucket) {
			uc.buckets.forget(ctx, in.Bucket)
			return nil, apperrors.New(apperrors.ErrNoSuchBucket).WithResource("/" + in.Bucket)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "ensure object")
	}

	hash := md5.New()
	cw := newChunkWriter(ctx, uc.registry.Preferred(), in.ContentLength)

	committed := false
	defer func() {
		if !committed {
			uc.abort(ctx, cw.Session())
		}
	}()

	body := in.Body
	if body == nil {
		body = http.NoBody
	}
	n, err := io.Copy(io.MultiWriter(hash, cw), body)
	if err == nil {
		err = cw.Close()
	}
	if err != nil {
		var appErr *apperrors.AppError
		switch {
		case errors.As(err, &appErr):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, apperrors.Wrap(err, apperrors.ErrIncompleteBody, "read request body").WithResource(resource)
		}
	}
	if n != in.ContentLength {
		return nil, apperrors.New(apperrors.ErrIncompleteBody).WithResource(resource)
	}

	sum := hash.Sum(nil)
	commit, err := uc.newCommit(in, n, sum)
	if err != nil {
		return nil, err
	}

	if session := cw.Session(); session != nil {
		ref, err := session.Finalize(ctx, b.Name+"/"+in.Key)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrBackendFailure, "finalize upload of %s", resource)
		}
		commit.File, commit.Pieces = placement(session, uc.registry.Preferred().ID(), ref, commit.Version.ID, sum)
		if err := assignIDs(commit); err != nil {
			return nil, err
		}
	}

	if err := uc.objects.CommitVersion(ctx, obj.ID, commit); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "commit version")
	}
	committed = true

	v := commit.Version
	uc.logger.WithContext(ctx).Info("object version committed",
		zap.String("bucket", b.Name),
		zap.String("key", in.Key),
		zap.String("version", v.ID),
		zap.Int64("size", v.ContentLength),
		zap.Int("pieces", len(commit.Pieces)))

	uc.publishCreated(ctx, b.Name, in.Key, v)
	return v, nil
}

func (uc *ObjectUseCase) newCommit(in *PutObjectInput, size int64, sum []byte) (*VersionCommit, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "generate version id")
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &VersionCommit{
		Version: &ObjectVersion{
			ID:            id.String(),
			ContentLength: size,
			ContentType:   contentType,
			MD5:           sum,
			CreatedAt:     time.Now().UTC(),
		},
	}, nil
}

// placement records the finished upstream file and one piece per chunk,
// laid out back to back from object offset 0
func placement(session upstream.UploadSession, providerID, ref, versionID string, sum []byte) (*UpstreamFile, []ObjectPiece) {
	chunks := session.Chunks()
	file := &UpstreamFile{
		ProviderID:    providerID,
		FileRef:       ref,
		ContentLength: session.Size(),
		Parameters: map[string]any{
			"chunk_size":  session.ChunkSize(),
			"chunk_count": len(chunks),
			"md5":         hex.EncodeToString(sum),
		},
	}

	pieces := make([]ObjectPiece, 0, len(chunks))
	var offset int64
	for _, c := range chunks {
		pieces = append(pieces, ObjectPiece{
			ObjectVersionID: versionID,
			ContentLength:   int64(c.Length),
			ObjectOffset:    offset,
			UpstreamOffset:  c.Start,
		})
		offset += int64(c.Length)
	}
	return file, pieces
}

func assignIDs(c *VersionCommit) error {
	id, err := uuid.NewV7()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "generate file id")
	}
	c.File.ID = id.String()
	for i := range c.Pieces {
		pid, err := uuid.NewV7()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrInternal, "generate piece id")
		}
		c.Pieces[i].ID = pid.String()
		c.Pieces[i].UpstreamFileID = c.File.ID
	}
	return nil
}

func (uc *ObjectUseCase) abort(ctx context.Context, session upstream.UploadSession) {
	a, ok := session.(upstream.Aborter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	defer cancel()
	if err := a.Abort(ctx); err != nil {
		uc.logger.WithContext(ctx).Warn("abort upload failed", zap.Error(err))
	}
}

// GetObjectInput selects an object and optionally a byte range of it
type GetObjectInput struct {
	Bucket string
	Key    string
	Range  *ByteRange
}

// GetObjectOutput describes the selected bytes [Start, End) of the latest
// version. Reader is nil for HeadObject.
type GetObjectOutput struct {
	Bucket  *Bucket
	Key     string
	Version *ObjectVersion
	Start   int64
	End     int64
	Total   int64
	Ranged  bool
	Reader  *ObjectReader
}

// Length is the number of selected bytes
func (o *GetObjectOutput) Length() int64 {
	return o.End - o.Start
}

// HeadObject resolves the latest version and range without reading content
func (uc *ObjectUseCase) HeadObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error) {
	resource := "/" + in.Bucket + "/" + in.Key

	b, err := uc.buckets.GetBucket(ctx, in.Bucket)
	if err != nil {
		return nil, err
	}

	v, err := uc.objects.GetLatestVersion(ctx, b.ID, in.Key)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSuchKey) {
			return nil, apperrors.New(apperrors.ErrNoSuchKey).WithResource(resource)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "get latest version")
	}
	if v.IsDeleteMarker() {
		return nil, apperrors.New(apperrors.ErrNoSuchKey).WithResource(resource)
	}

	start, end, err := in.Range.Resolve(v.ContentLength)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRange).WithResource(resource)
	}

	return &GetObjectOutput{
		Bucket:  b,
		Key:     in.Key,
		Version: v,
		Start:   start,
		End:     end,
		Total:   v.ContentLength,
		Ranged:  in.Range != nil,
	}, nil
}

// GetObject resolves the latest version and returns a reader over the
// selected bytes. Every selected byte is checked to be readable from a
// registered provider before the reader is returned.
func (uc *ObjectUseCase) GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error) {
	out, err := uc.HeadObject(ctx, in)
	if err != nil {
		return nil, err
	}
	resource := "/" + in.Bucket + "/" + in.Key

	var pieces []PieceLocation
	if out.Length() > 0 {
		pieces, err = uc.objects.ListPieces(ctx, out.Version.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "list pieces")
		}
	}

	index := newPieceIndex(pieces)
	if gap := index.verify(out.Start, out.End, uc.available); gap != nil {
		log := uc.logger.WithContext(ctx).With(
			zap.String("version", out.Version.ID),
			zap.Int64("offset", gap.pos))
		if gap.unreachable {
			log.Warn("object data held by unregistered provider", zap.Strings("providers", gap.providers))
			return nil, apperrors.New(apperrors.ErrBackendUnavailable).WithResource(resource)
		}
		log.Error("object pieces do not cover content")
		return nil, apperrors.New(apperrors.ErrDataUnavailable).WithResource(resource)
	}

	out.Reader = &ObjectReader{
		uc:    uc,
		index: index,
		ptr:   out.Start,
		end:   out.End,
		log:   uc.logger.WithContext(ctx).With(zap.String("version", out.Version.ID)),
	}
	return out, nil
}

func (uc *ObjectUseCase) available(p *PieceLocation) bool {
	return uc.registry.Has(p.File.ProviderID)
}

// persistFileRef records a moved upstream reference in the background
func (uc *ObjectUseCase) persistFileRef(ctx context.Context, fileID, newRef string) {
	if uc.files == nil {
		return
	}
	uc.background(ctx, "persist file ref", func(ctx context.Context) error {
		return uc.files.UpdateFileRef(ctx, fileID, newRef)
	})
}

func (uc *ObjectUseCase) publishCreated(ctx context.Context, bucket, key string, v *ObjectVersion) {
	if uc.events == nil {
		return
	}
	ev := &ObjectEvent{
		Event:     EventObjectCreatedPut,
		Bucket:    bucket,
		Key:       key,
		VersionID: v.ID,
		Size:      v.ContentLength,
		ETag:      v.ETag(),
		Time:      v.CreatedAt,
	}
	uc.background(ctx, "publish object event", func(ctx context.Context) error {
		return uc.events.PublishObjectCreated(ctx, ev)
	})
}

// background runs fn detached from the request's cancellation. Failures are
// logged only.
func (uc *ObjectUseCase) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := uc.logger.WithContext(ctx)
	ctx = context.WithoutCancel(ctx)

	task := func() {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}

	if uc.tasks == nil {
		task()
		return
	}
	if err := uc.tasks.Submit(task); err != nil {
		log.Warn("background task dropped", zap.String("task", name), zap.Error(err))
	}
}
