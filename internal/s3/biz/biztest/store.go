// Package biztest provides in-memory implementations of the biz repositories
// for tests that do not need PostgreSQL.
package biztest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/s3/biz"
)

var (
	_ biz.BucketRepo       = (*Store)(nil)
	_ biz.ObjectRepo       = (*Store)(nil)
	_ biz.UpstreamFileRepo = (*Store)(nil)
)

// Store keeps buckets, objects and placement in memory
type Store struct {
	mu       sync.Mutex
	buckets  map[string]*biz.Bucket // by id
	objects  map[string]*biz.Object // by id
	versions map[string]*biz.ObjectVersion
	files    map[string]*biz.UpstreamFile
	pieces   map[string][]biz.ObjectPiece // by version id
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		buckets:  make(map[string]*biz.Bucket),
		objects:  make(map[string]*biz.Object),
		versions: make(map[string]*biz.ObjectVersion),
		files:    make(map[string]*biz.UpstreamFile),
		pieces:   make(map[string][]biz.ObjectPiece),
	}
}

func (s *Store) Create(_ context.Context, b *biz.Bucket) (*biz.Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.bucketByName(b.Name); existing != nil {
		cp := *existing
		return &cp, false, nil
	}
	cp := *b
	s.buckets[b.ID] = &cp
	out := cp
	return &out, true, nil
}

func (s *Store) GetByName(_ context.Context, name string) (*biz.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucketByName(name)
	if b == nil {
		return nil, apperrors.New(apperrors.ErrNoSuchBucket)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) List(_ context.Context) ([]*biz.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*biz.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		cp := *b
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *biz.Bucket) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[id]; !ok {
		return apperrors.New(apperrors.ErrNoSuchBucket)
	}
	for _, o := range s.objects {
		if o.BucketID == id {
			return apperrors.New(apperrors.ErrBucketNotEmpty)
		}
	}
	delete(s.buckets, id)
	return nil
}

func (s *Store) Ensure(_ context.Context, bucketID, key string) (*biz.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucketID]; !ok {
		return nil, apperrors.New(apperrors.ErrNoSuchBucket)
	}
	if o := s.object(bucketID, key); o != nil {
		cp := *o
		return &cp, nil
	}
	o := &biz.Object{ID: uuid.NewString(), BucketID: bucketID, Key: key}
	s.objects[o.ID] = o
	cp := *o
	return &cp, nil
}

func (s *Store) GetLatestVersion(_ context.Context, bucketID, key string) (*biz.ObjectVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.object(bucketID, key)
	if o == nil || o.LatestVersionID == nil {
		return nil, apperrors.New(apperrors.ErrNoSuchKey)
	}
	cp := *s.versions[*o.LatestVersionID]
	return &cp, nil
}

func (s *Store) CommitVersion(_ context.Context, objectID string, c *biz.VersionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.objects[objectID]
	if !ok {
		return apperrors.New(apperrors.ErrNoSuchKey)
	}

	v := *c.Version
	v.ObjectID = objectID
	s.versions[v.ID] = &v
	if c.File != nil {
		f := *c.File
		s.files[f.ID] = &f
	}
	s.pieces[v.ID] = slices.Clone(c.Pieces)

	id := v.ID
	o.LatestVersionID = &id
	return nil
}

func (s *Store) ListPieces(_ context.Context, versionID string) ([]biz.PieceLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pieces := s.pieces[versionID]
	out := make([]biz.PieceLocation, 0, len(pieces))
	for _, p := range pieces {
		f, ok := s.files[p.UpstreamFileID]
		if !ok {
			continue
		}
		out = append(out, biz.PieceLocation{ObjectPiece: p, File: *f})
	}
	return out, nil
}

func (s *Store) ListLatest(_ context.Context, bucketID, prefix, after string, limit int) ([]biz.ObjectEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []biz.ObjectEntry
	for _, o := range s.objects {
		if o.BucketID != bucketID || o.LatestVersionID == nil {
			continue
		}
		if !strings.HasPrefix(o.Key, prefix) || o.Key <= after {
			continue
		}
		v := s.versions[*o.LatestVersionID]
		if v.IsDeleteMarker() {
			continue
		}
		out = append(out, biz.ObjectEntry{Key: o.Key, Size: v.ContentLength, MD5: v.MD5, LastModified: v.CreatedAt})
	}
	slices.SortFunc(out, func(a, b biz.ObjectEntry) int { return strings.Compare(a.Key, b.Key) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateFileRef(_ context.Context, fileID, newRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return apperrors.New(apperrors.ErrInternal, "no such upstream file")
	}
	f.FileRef = newRef
	return nil
}

// Pieces returns the stored pieces of a version with their files
func (s *Store) Pieces(versionID string) []biz.PieceLocation {
	out, _ := s.ListPieces(context.Background(), versionID)
	return out
}

// Versions returns the number of versions stored for key
func (s *Store) Versions(bucketID, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.object(bucketID, key)
	if o == nil {
		return 0
	}
	n := 0
	for _, v := range s.versions {
		if v.ObjectID == o.ID {
			n++
		}
	}
	return n
}

// AddDeleteMarker commits a delete marker as the latest version of key
func (s *Store) AddDeleteMarker(ctx context.Context, bucketID, key string) error {
	o, err := s.Ensure(ctx, bucketID, key)
	if err != nil {
		return err
	}
	return s.CommitVersion(ctx, o.ID, &biz.VersionCommit{
		Version: &biz.ObjectVersion{ID: uuid.NewString(), ContentLength: -1, ContentType: biz.DefaultContentType},
	})
}

// SetPieces replaces the placement of a version
func (s *Store) SetPieces(versionID string, file biz.UpstreamFile, pieces []biz.ObjectPiece) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[file.ID] = &file
	s.pieces[versionID] = slices.Clone(pieces)
}

// File returns an upstream file record
func (s *Store) File(id string) (biz.UpstreamFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return biz.UpstreamFile{}, false
	}
	return *f, true
}

func (s *Store) bucketByName(name string) *biz.Bucket {
	for _, b := range s.buckets {
		if strings.EqualFold(b.Name, name) {
			return b
		}
	}
	return nil
}

func (s *Store) object(bucketID, key string) *biz.Object {
	for _, o := range s.objects {
		if o.BucketID == bucketID && o.Key == key {
			return o
		}
	}
	return nil
}
