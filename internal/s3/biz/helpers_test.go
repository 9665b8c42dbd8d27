package biz_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/lk2023060901/nanami/internal/pkg/upstream/upstreamtest"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"github.com/lk2023060901/nanami/internal/s3/biz/biztest"
	"github.com/stretchr/testify/require"
)

type env struct {
	srv     *upstreamtest.Server
	store   *biztest.Store
	events  *biztest.Events
	buckets *biz.BucketUseCase
	objects *biz.ObjectUseCase
}

func newEnv(t *testing.T, opts ...upstreamtest.Option) *env {
	t.Helper()

	srv := upstreamtest.New(t, opts...)
	p, err := upstream.NewHTTPProvider("ton", upstream.ProviderConfig{URL: srv.URL}, logger.Nop())
	require.NoError(t, err)
	reg, err := upstream.NewRegistry("", p)
	require.NoError(t, err)

	e := &env{srv: srv, store: biztest.NewStore(), events: &biztest.Events{}}
	e.buckets = biz.NewBucketUseCase(e.store, e.store, nil, nil)
	e.objects = biz.NewObjectUseCase(e.buckets, e.store, e.store, reg, e.events, nil, nil)
	return e
}

func (e *env) bucket(t *testing.T, name string) *biz.Bucket {
	t.Helper()
	b, err := e.buckets.CreateBucket(context.Background(), name)
	require.NoError(t, err)
	return b
}

func (e *env) put(t *testing.T, bucket, key string, content []byte) *biz.ObjectVersion {
	t.Helper()
	v, err := e.objects.PutObject(context.Background(), &biz.PutObjectInput{
		Bucket:        bucket,
		Key:           key,
		Body:          bytes.NewReader(content),
		ContentLength: int64(len(content)),
	})
	require.NoError(t, err)
	return v
}

func (e *env) get(t *testing.T, bucket, key string, r *biz.ByteRange) ([]byte, *biz.GetObjectOutput) {
	t.Helper()
	ctx := context.Background()
	out, err := e.objects.GetObject(ctx, &biz.GetObjectInput{Bucket: bucket, Key: key, Range: r})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := out.Reader.Stream(ctx, &buf)
	require.NoError(t, err)
	require.EqualValues(t, out.Length(), n)
	return buf.Bytes(), out
}

func span(start, end int64) *biz.ByteRange {
	return &biz.ByteRange{Start: &start, End: &end}
}

func from(start int64) *biz.ByteRange {
	return &biz.ByteRange{Start: &start}
}
