package service

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/response"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/lk2023060901/nanami/internal/pkg/upstream/upstreamtest"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"github.com/lk2023060901/nanami/internal/s3/biz/biztest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	store  *biztest.Store
	srv    *upstreamtest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := upstreamtest.New(t, upstreamtest.WithChunkSize(4))
	p, err := upstream.NewHTTPProvider("ton", upstream.ProviderConfig{URL: srv.URL}, logger.Nop())
	require.NoError(t, err)
	reg, err := upstream.NewRegistry("ton", p)
	require.NoError(t, err)

	store := biztest.NewStore()
	buckets := biz.NewBucketUseCase(store, store, nil, nil)
	objects := biz.NewObjectUseCase(buckets, store, store, reg, nil, nil, nil)

	r := gin.New()
	r.UseRawPath = true
	r.Use(logger.GinLogger(logger.Nop(), logger.MiddlewareOptions{}))
	NewS3Service(buckets, objects, logger.Nop()).RegisterRoutes(r)

	return &testEnv{router: r, store: store, srv: srv}
}

func (e *testEnv) do(method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) mustDo(t *testing.T, method, target, body string, wantStatus int) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := e.do(method, target, r, nil)
	require.Equal(t, wantStatus, w.Code, w.Body.String())
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	var body response.ErrorBody
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestBuckets(t *testing.T) {
	e := newTestEnv(t)

	w := e.mustDo(t, http.MethodPut, "/Photos", "", http.StatusOK)
	assert.Equal(t, "/Photos", w.Header().Get("Location"))
	e.mustDo(t, http.MethodPut, "/photos", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/archive/", "", http.StatusOK)

	w = e.mustDo(t, http.MethodGet, "/", "", http.StatusOK)
	var list ListAllMyBucketsResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Buckets, 2)
	assert.Equal(t, "Photos", list.Buckets[0].Name)
	assert.Equal(t, "archive", list.Buckets[1].Name)
	assert.NotEmpty(t, list.Buckets[0].CreationDate)
	assert.True(t, strings.HasPrefix(w.Body.String(), xml.Header))

	e.mustDo(t, http.MethodHead, "/PHOTOS", "", http.StatusOK)
	w = e.mustDo(t, http.MethodHead, "/nope", "", http.StatusNotFound)
	assert.Empty(t, w.Body.String())

	e.mustDo(t, http.MethodPut, "/x", "", http.StatusOK)
	w = e.mustDo(t, http.MethodPut, "/bad-", "", http.StatusBadRequest)
	assert.Equal(t, "InvalidBucketName", errorCode(t, w).Code)
}

func TestDeleteBucket(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/full", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/full/k", "data", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/empty", "", http.StatusOK)

	w := e.mustDo(t, http.MethodDelete, "/full", "", http.StatusConflict)
	body := errorCode(t, w)
	assert.Equal(t, "BucketNotEmpty", body.Code)
	assert.Equal(t, "/full", body.Resource)

	e.mustDo(t, http.MethodDelete, "/empty", "", http.StatusNoContent)
	w = e.mustDo(t, http.MethodDelete, "/empty", "", http.StatusNotFound)
	assert.Equal(t, "NoSuchBucket", errorCode(t, w).Code)
}

func TestPutGetObject(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)

	w := e.do(http.MethodPut, "/b/dir/hello.txt", strings.NewReader("hello world"), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	etag := w.Header().Get("ETag")
	assert.Equal(t, `"5eb63bbbe01eeed093cb22bb8f5acdc3"`, etag)

	w = e.mustDo(t, http.MethodGet, "/b/dir/hello.txt", "", http.StatusOK)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "11", w.Header().Get("Content-Length"))
	assert.Equal(t, etag, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))
	assert.Empty(t, w.Header().Get("Content-Range"))

	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, map[string]string{"Range": "bytes=6-10"})
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "world", w.Body.String())
	assert.Equal(t, "bytes 6-10/11", w.Header().Get("Content-Range"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))

	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, map[string]string{"Range": "bytes=3-"})
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "lo world", w.Body.String())
	assert.Equal(t, "bytes 3-10/11", w.Header().Get("Content-Range"))

	// a range starting at the end selects nothing
	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, map[string]string{"Range": "bytes=11-"})
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 11-10/11", w.Header().Get("Content-Range"))

	// unparseable ranges are ignored
	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, map[string]string{"Range": "bytes=-3"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())

	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, map[string]string{"Range": "bytes=20-"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "InvalidRange", errorCode(t, w).Code)
}

func TestHeadObject(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/b/k", "hello world", http.StatusOK)
	reads := e.srv.Reads()

	w := e.mustDo(t, http.MethodHead, "/b/k", "", http.StatusOK)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "11", w.Header().Get("Content-Length"))
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, reads, e.srv.Reads())

	w = e.mustDo(t, http.MethodHead, "/b/missing", "", http.StatusNotFound)
	assert.Empty(t, w.Body.String())
}

func TestGetObject_Missing(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)

	w := e.mustDo(t, http.MethodGet, "/b/missing", "", http.StatusNotFound)
	body := errorCode(t, w)
	assert.Equal(t, "NoSuchKey", body.Code)
	assert.Equal(t, "/b/missing", body.Resource)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, w.Header().Get(logger.RequestIDHeader), body.RequestID)

	w = e.mustDo(t, http.MethodGet, "/nope/k", "", http.StatusNotFound)
	assert.Equal(t, "NoSuchBucket", errorCode(t, w).Code)
}

func TestEmptyObject(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)

	w := e.do(http.MethodPut, "/b/empty", strings.NewReader(""), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"d41d8cd98f00b204e9800998ecf8427e"`, w.Header().Get("ETag"))

	w = e.mustDo(t, http.MethodGet, "/b/empty", "", http.StatusOK)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("Content-Length"))
	assert.Zero(t, e.srv.Files())
}

func TestPutObject_MissingContentLength(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)

	req := httptest.NewRequest(http.MethodPut, "/b/k", strings.NewReader("data"))
	req.ContentLength = -1
	req.Header.Set("Transfer-Encoding", "chunked")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusLengthRequired, w.Code)
	assert.Equal(t, "MissingContentLength", errorCode(t, w).Code)
}

func TestNotImplemented(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/b/k", "x", http.StatusOK)

	targets := []struct {
		method, target string
		header         map[string]string
	}{
		{http.MethodGet, "/b?location", nil},
		{http.MethodGet, "/b?logging", nil},
		{http.MethodGet, "/b?lifecycle", nil},
		{http.MethodGet, "/b?website", nil},
		{http.MethodGet, "/b?acl", nil},
		{http.MethodGet, "/b?versioning", nil},
		{http.MethodGet, "/b?ownershipControls", nil},
		{http.MethodGet, "/b?versions", nil},
		{http.MethodGet, "/b?uploads", nil},
		{http.MethodGet, "/b?list-type=2", nil},
		{http.MethodPut, "/b/k?acl", nil},
		{http.MethodPut, "/b/k?legal-hold", nil},
		{http.MethodPut, "/b/k?retention", nil},
		{http.MethodPut, "/b/k?tagging", nil},
		{http.MethodPut, "/b/k?renameObject", nil},
		{http.MethodPut, "/b/k?partNumber=1&uploadId=x", nil},
		{http.MethodPut, "/b/k2", map[string]string{"x-amz-copy-source": "/b/k"}},
		{http.MethodPost, "/b/k?uploads", nil},
		{http.MethodDelete, "/b/k", nil},
	}
	for _, tt := range targets {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := e.do(tt.method, tt.target, strings.NewReader("x"), tt.header)
			assert.Equal(t, http.StatusNotImplemented, w.Code)
			assert.Equal(t, "NotImplemented", errorCode(t, w).Code)
		})
	}
}

func TestListObjects(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	for _, key := range []string{"a.txt", "docs/one", "docs/two", "img/cat.jpg"} {
		e.mustDo(t, http.MethodPut, "/b/"+key, key, http.StatusOK)
	}

	w := e.mustDo(t, http.MethodGet, "/b?delimiter=/", "", http.StatusOK)
	var res ListBucketResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "b", res.Name)
	assert.Equal(t, "/", res.Delimiter)
	assert.Equal(t, 1000, res.MaxKeys)
	assert.False(t, res.IsTruncated)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "a.txt", res.Contents[0].Key)
	assert.EqualValues(t, 5, res.Contents[0].Size)
	assert.Equal(t, "STANDARD", res.Contents[0].StorageClass)
	assert.Equal(t, []CommonPrefixXML{{Prefix: "docs/"}, {Prefix: "img/"}}, res.CommonPrefixes)

	w = e.mustDo(t, http.MethodGet, "/b?prefix=docs/&max-keys=1", "", http.StatusOK)
	res = ListBucketResult{}
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "docs/one", res.Contents[0].Key)
	assert.True(t, res.IsTruncated)
	assert.Equal(t, "docs/one", res.NextMarker)

	w = e.mustDo(t, http.MethodGet, "/b/?marker=docs/one&prefix=docs/", "", http.StatusOK)
	res = ListBucketResult{}
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "docs/two", res.Contents[0].Key)

	w = e.mustDo(t, http.MethodGet, "/b?max-keys=abc", "", http.StatusBadRequest)
	assert.Equal(t, "InvalidArgument", errorCode(t, w).Code)
}

func TestGetObject_BackendUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/b/k", "hello world", http.StatusOK)

	b, err := e.store.GetByName(t.Context(), "b")
	require.NoError(t, err)
	v, err := e.store.GetLatestVersion(t.Context(), b.ID, "k")
	require.NoError(t, err)

	pieces := e.store.Pieces(v.ID)
	file := biz.UpstreamFile{ID: "retired-file", ProviderID: "retired", FileRef: "r"}
	placement := make([]biz.ObjectPiece, 0, len(pieces))
	for _, p := range pieces {
		p.UpstreamFileID = file.ID
		placement = append(placement, p.ObjectPiece)
	}
	e.store.SetPieces(v.ID, file, placement)

	w := e.mustDo(t, http.MethodGet, "/b/k", "", http.StatusServiceUnavailable)
	assert.Equal(t, "ServiceUnavailable", errorCode(t, w).Code)
}

func TestGetObject_BackendFailureIsOpaque(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/b/k", "hello world", http.StatusOK)
	e.srv.FailReads(true)

	// headers are committed before the first read fails, so the body comes up short
	w := e.do(http.MethodGet, "/b/k", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "11", w.Header().Get("Content-Length"))
	assert.Empty(t, w.Body.String())
}

func TestObjectKeysWithEscapes(t *testing.T) {
	e := newTestEnv(t)
	e.mustDo(t, http.MethodPut, "/b", "", http.StatusOK)
	e.mustDo(t, http.MethodPut, "/b/a%20b/c%3Fd", "spaced", http.StatusOK)

	w := e.mustDo(t, http.MethodGet, "/b?prefix=a", "", http.StatusOK)
	var res ListBucketResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "a b/c?d", res.Contents[0].Key)

	w = e.mustDo(t, http.MethodGet, "/b/a%20b/c%3Fd", "", http.StatusOK)
	assert.Equal(t, "spaced", w.Body.String())
}
