//go:build integration

package data

import (
	"context"
	"crypto/md5"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/nanami/internal/pkg/database"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := database.DefaultConfig()
	cfg.Host = getEnv("TEST_DB_HOST", "localhost")
	cfg.Port, _ = strconv.Atoi(getEnv("TEST_DB_PORT", "5432"))
	cfg.User = getEnv("TEST_DB_USER", "postgres")
	cfg.Password = getEnv("TEST_DB_PASSWORD", "postgres")
	cfg.DBName = getEnv("TEST_DB_NAME", "nanami_test")
	cfg.AutoMigrate = true

	db, err := database.New(cfg, logger.Nop())
	require.NoError(t, err)
	// twice: the migration must be idempotent
	require.NoError(t, db.Migrate(context.Background(), Migration()))
	require.NoError(t, db.Migrate(context.Background(), Migration()))

	t.Cleanup(func() {
		db.GetDB().Exec("TRUNCATE object_pieces, upstream_files, s3_object_versions, s3_objects, s3_buckets CASCADE")
		_ = db.Close()
	})
	return db
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id.String()
}

func createBucket(t *testing.T, repo *BucketRepo, name string) *biz.Bucket {
	t.Helper()
	b, _, err := repo.Create(context.Background(), &biz.Bucket{ID: newID(t), Name: name, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	return b
}

func commit(t *testing.T, repo *ObjectRepo, objectID string, content []byte, chunk int) *biz.VersionCommit {
	t.Helper()
	sum := md5.Sum(content)
	c := &biz.VersionCommit{
		Version: &biz.ObjectVersion{
			ID:            newID(t),
			ContentLength: int64(len(content)),
			ContentType:   biz.DefaultContentType,
			MD5:           sum[:],
			CreatedAt:     time.Now().UTC(),
		},
	}
	if len(content) > 0 {
		c.File = &biz.UpstreamFile{
			ID:            newID(t),
			ProviderID:    "ton",
			FileRef:       "ref-" + newID(t),
			ContentLength: int64(len(content)),
			Parameters:    map[string]any{"chunk_size": chunk},
		}
		for off := 0; off < len(content); off += chunk {
			n := min(chunk, len(content)-off)
			c.Pieces = append(c.Pieces, biz.ObjectPiece{
				ID:              newID(t),
				ObjectVersionID: c.Version.ID,
				UpstreamFileID:  c.File.ID,
				ContentLength:   int64(n),
				ObjectOffset:    int64(off),
				UpstreamOffset:  int64(off),
			})
		}
	}
	require.NoError(t, repo.CommitVersion(context.Background(), objectID, c))
	return c
}

func TestIntegration_BucketCaseInsensitive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepo(db)
	ctx := context.Background()

	first, created, err := repo.Create(ctx, &biz.Bucket{ID: newID(t), Name: "Photos", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Create(ctx, &biz.Bucket{ID: newID(t), Name: "photos", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	buckets, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, buckets, 1)

	_, err = repo.GetByName(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoSuchBucket))
}

func TestIntegration_DeleteNonEmptyBucket(t *testing.T) {
	db := setupTestDB(t)
	buckets, objects := NewBucketRepo(db), NewObjectRepo(db)
	ctx := context.Background()

	b := createBucket(t, buckets, "full")
	_, err := objects.Ensure(ctx, b.ID, "k")
	require.NoError(t, err)

	err = buckets.Delete(ctx, b.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrBucketNotEmpty))

	empty := createBucket(t, buckets, "empty")
	require.NoError(t, buckets.Delete(ctx, empty.ID))
	err = buckets.Delete(ctx, empty.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoSuchBucket))

	_, err = objects.Ensure(ctx, empty.ID, "k")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoSuchBucket))
}

func TestIntegration_EnsureConcurrent(t *testing.T) {
	db := setupTestDB(t)
	b := createBucket(t, NewBucketRepo(db), "b")
	repo := NewObjectRepo(db)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := repo.Ensure(context.Background(), b.ID, "same")
			if assert.NoError(t, err) {
				ids[i] = o.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIntegration_CommitAndRead(t *testing.T) {
	db := setupTestDB(t)
	b := createBucket(t, NewBucketRepo(db), "b")
	repo := NewObjectRepo(db)
	ctx := context.Background()

	o, err := repo.Ensure(ctx, b.ID, "k")
	require.NoError(t, err)
	_, err = repo.GetLatestVersion(ctx, b.ID, "k")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoSuchKey))

	commit(t, repo, o.ID, []byte("old content"), 4)
	c := commit(t, repo, o.ID, []byte("hello world"), 4)

	v, err := repo.GetLatestVersion(ctx, b.ID, "k")
	require.NoError(t, err)
	assert.Equal(t, c.Version.ID, v.ID)
	assert.EqualValues(t, 11, v.ContentLength)
	assert.Equal(t, c.Version.MD5, v.MD5)

	pieces, err := repo.ListPieces(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, pieces, 3)
	var next int64
	for _, p := range pieces {
		assert.Equal(t, next, p.ObjectOffset)
		assert.Equal(t, "ton", p.File.ProviderID)
		assert.Equal(t, c.File.FileRef, p.File.FileRef)
		next = p.End()
	}
	assert.EqualValues(t, 11, next)
	assert.EqualValues(t, 4, pieces[0].File.Parameters["chunk_size"])

	files := NewUpstreamFileRepo(db)
	require.NoError(t, files.UpdateFileRef(ctx, c.File.ID, "moved"))
	pieces, err = repo.ListPieces(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "moved", pieces[0].File.FileRef)
}

func TestIntegration_EmptyVersion(t *testing.T) {
	db := setupTestDB(t)
	b := createBucket(t, NewBucketRepo(db), "b")
	repo := NewObjectRepo(db)
	ctx := context.Background()

	o, err := repo.Ensure(ctx, b.ID, "empty")
	require.NoError(t, err)
	c := commit(t, repo, o.ID, nil, 4)

	pieces, err := repo.ListPieces(ctx, c.Version.ID)
	require.NoError(t, err)
	assert.Empty(t, pieces)
}

func TestIntegration_ContentLengthCheck(t *testing.T) {
	db := setupTestDB(t)
	b := createBucket(t, NewBucketRepo(db), "b")
	repo := NewObjectRepo(db)
	ctx := context.Background()

	o, err := repo.Ensure(ctx, b.ID, "k")
	require.NoError(t, err)
	err = repo.CommitVersion(ctx, o.ID, &biz.VersionCommit{
		Version: &biz.ObjectVersion{ID: newID(t), ContentLength: -2, ContentType: biz.DefaultContentType},
	})
	require.Error(t, err)
	assert.True(t, database.IsConstraintViolation(err))
}

func TestIntegration_ListLatest(t *testing.T) {
	db := setupTestDB(t)
	b := createBucket(t, NewBucketRepo(db), "b")
	repo := NewObjectRepo(db)
	ctx := context.Background()

	keys := []string{"B", "a", "a_b", "a%c", "ab", "dir/x", "gone"}
	for _, key := range keys {
		o, err := repo.Ensure(ctx, b.ID, key)
		require.NoError(t, err)
		commit(t, repo, o.ID, []byte(key), 4)
	}
	gone, err := repo.Ensure(ctx, b.ID, "gone")
	require.NoError(t, err)
	require.NoError(t, repo.CommitVersion(ctx, gone.ID, &biz.VersionCommit{
		Version: &biz.ObjectVersion{ID: newID(t), ContentLength: -1, ContentType: biz.DefaultContentType},
	}))

	list := func(prefix, after string, limit int) []string {
		entries, err := repo.ListLatest(ctx, b.ID, prefix, after, limit)
		require.NoError(t, err)
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Key
		}
		return out
	}

	// byte order, delete markers skipped
	assert.Equal(t, []string{"B", "a", "a%c", "a_b", "ab", "dir/x"}, list("", "", 100))
	// LIKE metacharacters match literally
	assert.Equal(t, []string{"a_b"}, list("a_", "", 100))
	assert.Equal(t, []string{"a%c"}, list("a%", "", 100))
	assert.Equal(t, []string{"a_b", "ab"}, list("a", "a%c", 100))
	assert.Equal(t, []string{"B", "a"}, list("", "", 2))
	assert.Empty(t, list("zzz", "", 100))
	assert.Equal(t, []string{"dir/x"}, list("dir/", "", 100))
}
