package biz

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	chunkSize int
	started   int
	hint      int64
	session   *recordingSession
	appendErr error
}

func (p *recordingProvider) ID() string { return "rec" }

func (p *recordingProvider) StartUpload(_ context.Context, sizeHint int64) (upstream.UploadSession, error) {
	p.started++
	p.hint = sizeHint
	p.session = &recordingSession{size: p.chunkSize, err: p.appendErr}
	return p.session, nil
}

func (p *recordingProvider) ReadChunk(context.Context, string, int64, int64) ([]byte, error) {
	return nil, errors.New("not readable")
}

type recordingSession struct {
	size   int
	chunks [][]byte
	err    error
}

func (s *recordingSession) ChunkSize() int { return s.size }

func (s *recordingSession) Append(_ context.Context, p []byte) error {
	if s.err != nil {
		return s.err
	}
	if len(p) > s.size {
		return upstream.ErrChunkTooLarge
	}
	s.chunks = append(s.chunks, bytes.Clone(p))
	return nil
}

func (s *recordingSession) Finalize(context.Context, string) (string, error) { return "ref", nil }

func (s *recordingSession) Chunks() []upstream.ChunkInfo { return nil }

func (s *recordingSession) Size() int64 { return 0 }

func TestChunkWriter_Windows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"exact", "abcdefgh", []string{"abcd", "efgh"}},
		{"remainder", "hello world", []string{"hell", "o wo", "rld"}},
		{"short", "hi", []string{"hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingProvider{chunkSize: 4}
			w := newChunkWriter(context.Background(), p, int64(len(tt.content)))

			// odd sized writes so windows straddle them
			_, err := io.CopyBuffer(w, onlyReader{bytes.NewReader([]byte(tt.content))}, make([]byte, 3))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			require.Equal(t, 1, p.started)
			assert.EqualValues(t, len(tt.content), p.hint)
			var got []string
			for _, c := range p.session.chunks {
				got = append(got, string(c))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkWriter_EmptyStreamStartsNothing(t *testing.T) {
	p := &recordingProvider{chunkSize: 4}
	w := newChunkWriter(context.Background(), p, 0)

	n, err := w.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, w.Close())

	assert.Zero(t, p.started)
	assert.Nil(t, w.Session())
}

func TestChunkWriter_AppendFailure(t *testing.T) {
	p := &recordingProvider{chunkSize: 2, appendErr: errors.New("boom")}
	w := newChunkWriter(context.Background(), p, 4)

	_, err := w.Write([]byte("abcd"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBackendFailure))
}

func TestChunkWriter_WriteAfterClose(t *testing.T) {
	w := newChunkWriter(context.Background(), &recordingProvider{chunkSize: 2}, 0)
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("a"))
	assert.ErrorIs(t, err, upstream.ErrSessionFinalized)
}

// onlyReader hides WriterTo so io.CopyBuffer uses the given buffer
type onlyReader struct{ io.Reader }
