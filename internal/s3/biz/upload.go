package biz

import (
	"context"
	"fmt"

	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
)

// chunkWriter cuts a byte stream into the chunk size of an upload session.
// The session is started by the first non-empty Write, so an empty stream
// never touches the provider. Close uploads the final partial chunk.
//
// ctx is held because io.Writer has no way to pass it per call.
type chunkWriter struct {
	ctx      context.Context
	provider upstream.Provider
	sizeHint int64

	session upstream.UploadSession
	buf     []byte
	n       int
	closed  bool
}

func newChunkWriter(ctx context.Context, provider upstream.Provider, sizeHint int64) *chunkWriter {
	return &chunkWriter{ctx: ctx, provider: provider, sizeHint: sizeHint}
}

func (w *chunkWriter) start() error {
	s, err := w.provider.StartUpload(w.ctx, w.sizeHint)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrBackendFailure, "start upload on %s", w.provider.ID())
	}
	size := s.ChunkSize()
	if size <= 0 {
		return apperrors.New(apperrors.ErrBackendFailure,
			fmt.Sprintf("provider %s returned chunk size %d", w.provider.ID(), size))
	}
	w.session = s
	w.buf = make([]byte, size)
	return nil
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, upstream.ErrSessionFinalized
	}
	if len(p) == 0 {
		return 0, nil
	}
	if w.session == nil {
		if err := w.start(); err != nil {
			return 0, err
		}
	}

	written := 0
	for len(p) > 0 {
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]
		if w.n == len(w.buf) {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
		written += c
	}
	return written, nil
}

func (w *chunkWriter) flush() error {
	if w.n == 0 {
		return nil
	}
	if err := w.session.Append(w.ctx, w.buf[:w.n]); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrBackendFailure, "append chunk to %s", w.provider.ID())
	}
	w.n = 0
	return nil
}

// Close uploads any buffered bytes. It does not finalize the session.
func (w *chunkWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.session == nil {
		return nil
	}
	return w.flush()
}

// Session returns the upload session, or nil when nothing was written
func (w *chunkWriter) Session() upstream.UploadSession {
	return w.session
}
