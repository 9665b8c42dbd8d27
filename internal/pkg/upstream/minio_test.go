package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory objectStore
type memStore struct {
	uploads map[string][][]byte
	objects map[string][]byte
	aborted []string
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{uploads: map[string][][]byte{}, objects: map[string][]byte{}}
}

func (m *memStore) ObjectName(key string) string { return "pieces/" + key }

func (m *memStore) NewMultipartUpload(_ context.Context, object string) (string, error) {
	id := "upload-" + object
	m.uploads[id] = nil
	return id, nil
}

func (m *memStore) PutPart(_ context.Context, _ string, uploadID string, partNumber int, data io.Reader, size int64, _ string) (string, error) {
	if m.failPut {
		return "", errors.New("put failed")
	}
	if partNumber != len(m.uploads[uploadID])+1 {
		return "", fmt.Errorf("unexpected part %d", partNumber)
	}
	b, err := io.ReadAll(data)
	if err != nil || int64(len(b)) != size {
		return "", errors.New("short part")
	}
	m.uploads[uploadID] = append(m.uploads[uploadID], b)
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (m *memStore) CompleteMultipartUpload(_ context.Context, object, uploadID string, etags []string) error {
	if len(etags) != len(m.uploads[uploadID]) {
		return errors.New("part count mismatch")
	}
	m.objects[object] = bytes.Join(m.uploads[uploadID], nil)
	delete(m.uploads, uploadID)
	return nil
}

func (m *memStore) AbortMultipartUpload(_ context.Context, _ string, uploadID string) error {
	m.aborted = append(m.aborted, uploadID)
	delete(m.uploads, uploadID)
	return nil
}

func (m *memStore) GetRange(_ context.Context, object string, offset, length int64) ([]byte, error) {
	data, ok := m.objects[object]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	return data[offset:min(offset+length, int64(len(data)))], nil
}

func TestMinIOProvider_UploadAndRead(t *testing.T) {
	store := newMemStore()
	p := newMinIOProvider("s3", store, 4, logger.Nop())
	ctx := context.Background()

	ref, sess := upload(t, p, []byte("0123456789"))
	assert.Contains(t, ref, "pieces/")
	assert.Len(t, sess.Chunks(), 3)
	assert.Equal(t, []byte("0123456789"), store.objects[ref])

	got, err := p.ReadChunk(ctx, ref, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), got)

	got, err = p.ReadChunk(ctx, ref, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = p.ReadChunk(ctx, "missing", 0, 1)
	var be *BackendError
	assert.ErrorAs(t, err, &be)
}

func TestMinIOProvider_Abort(t *testing.T) {
	store := newMemStore()
	p := newMinIOProvider("s3", store, 4, logger.Nop())
	ctx := context.Background()

	sess, err := p.StartUpload(ctx, 8)
	require.NoError(t, err)
	require.NoError(t, sess.Append(ctx, []byte("abcd")))

	aborter, ok := sess.(Aborter)
	require.True(t, ok)
	require.NoError(t, aborter.Abort(ctx))
	assert.Len(t, store.aborted, 1)
	assert.ErrorIs(t, sess.Append(ctx, []byte("x")), ErrSessionFinalized)
}

func TestMinIOProvider_PutFailure(t *testing.T) {
	store := newMemStore()
	store.failPut = true
	p := newMinIOProvider("s3", store, 4, logger.Nop())
	ctx := context.Background()

	sess, err := p.StartUpload(ctx, 4)
	require.NoError(t, err)
	err = sess.Append(ctx, []byte("abcd"))
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Empty(t, sess.Chunks())
}

func TestMinIOProvider_DefaultChunkSize(t *testing.T) {
	p := newMinIOProvider("s3", newMemStore(), 0, logger.Nop())
	sess, err := p.StartUpload(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, defaultMinIOChunkSize, sess.ChunkSize())
}
