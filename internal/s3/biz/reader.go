package biz

import (
	"context"
	"fmt"
	"io"

	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"go.uber.org/zap"
)

// ObjectReader produces the bytes [start, end) of one object version as a
// sequence of chunks read from the pieces' providers. It is single use.
type ObjectReader struct {
	uc    *ObjectUseCase
	index *pieceIndex
	ptr   int64
	end   int64
	log   *logger.Logger
}

// Remaining is the number of bytes not yet returned
func (r *ObjectReader) Remaining() int64 {
	return r.end - r.ptr
}

// Next returns the next chunk of content. It returns io.EOF once every byte
// has been produced. Chunks may be shorter than a piece.
func (r *ObjectReader) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.ptr >= r.end {
			return nil, io.EOF
		}

		i, ok := r.index.find(r.ptr, r.uc.available)
		if !ok {
			return nil, apperrors.New(apperrors.ErrDataUnavailable,
				fmt.Sprintf("no readable piece covers offset %d", r.ptr))
		}
		piece := r.index.pieces[i]

		want := min(piece.End(), r.end) - r.ptr
		offset := piece.UpstreamOffset + (r.ptr - piece.ObjectOffset)

		data, err := r.read(ctx, piece, offset, want)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			r.log.Debug("piece exhausted early",
				zap.String("piece", piece.ID),
				zap.Int64("offset", r.ptr))
			r.index.exhaust(i)
			continue
		}
		if int64(len(data)) > want {
			data = data[:want]
		}
		r.ptr += int64(len(data))
		return data, nil
	}
}

func (r *ObjectReader) read(ctx context.Context, piece *PieceLocation, offset, length int64) ([]byte, error) {
	provider, _ := r.uc.registry.Get(piece.File.ProviderID)

	data, err := provider.ReadChunk(ctx, piece.File.FileRef, offset, length)
	if stale, ok := upstream.IsStaleReference(err); ok {
		r.log.Info("upstream reference moved",
			zap.String("file", piece.File.ID),
			zap.String("old_ref", stale.OldRef),
			zap.String("new_ref", stale.NewRef))

		r.index.rebind(piece.File.ID, stale.NewRef)
		r.uc.persistFileRef(ctx, piece.File.ID, stale.NewRef)

		data, err = provider.ReadChunk(ctx, stale.NewRef, offset, length)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrBackendFailure,
			"read piece %s from %s", piece.ID, piece.File.ProviderID)
	}
	return data, nil
}

// Stream copies the remaining content to w
func (r *ObjectReader) Stream(ctx context.Context, w io.Writer) (int64, error) {
	var n int64
	for {
		data, err := r.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		m, err := w.Write(data)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
}
