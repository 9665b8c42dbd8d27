package upstream

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	headerNewRef = "X-New-Ref"
	// error bodies are truncated to this many bytes
	maxErrorBody = 4 << 10
)

// HTTPProvider speaks the chunked upload protocol over HTTP
type HTTPProvider struct {
	id         string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPProvider creates a client for the HTTP chunk protocol
func NewHTTPProvider(id string, cfg ProviderConfig, log *logger.Logger) (*HTTPProvider, error) {
	cfg.Type = TypeHTTP
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("upstream %s: %w", id, err)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &HTTPProvider{
		id:         id,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With(zap.String("provider", id)),
	}, nil
}

// ID implements Provider
func (p *HTTPProvider) ID() string {
	return p.id
}

// StartUpload implements Provider
func (p *HTTPProvider) StartUpload(ctx context.Context, sizeHint int64) (UploadSession, error) {
	query := url.Values{}
	if sizeHint >= 0 {
		query.Set("file_size", strconv.FormatInt(sizeHint, 10))
	}

	status, body, err := p.do(ctx, http.MethodPost, "/v1/upload/start", query, nil, "")
	if err != nil {
		return nil, p.backendError("upload start", 0, nil, err)
	}
	if !isSuccess(status) {
		return nil, p.backendError("upload start", status, body, nil)
	}

	token := gjson.GetBytes(body, "token")
	chunkSize := gjson.GetBytes(body, "chunk_size")
	if token.Type != gjson.String || token.String() == "" || chunkSize.Type != gjson.Number || chunkSize.Int() <= 0 {
		return nil, p.backendError("upload start", status, body, errors.New("malformed start response"))
	}

	p.logger.Debug("upload session started",
		zap.Int64("size_hint", sizeHint),
		zap.Int64("chunk_size", chunkSize.Int()),
	)

	return &httpSession{
		provider:  p,
		token:     token.String(),
		chunkSize: int(chunkSize.Int()),
		hash:      md5.New(),
	}, nil
}

// ReadChunk implements Provider. The response body is truncated to maxLength.
func (p *HTTPProvider) ReadChunk(ctx context.Context, ref string, offset, maxLength int64) ([]byte, error) {
	path := "/v1/files/" + url.PathEscape(ref) + "/chunks/" + strconv.FormatInt(offset, 10)
	req, err := p.newRequest(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, p.backendError("read", 0, nil, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.backendError("read", 0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		if newRef := resp.Header.Get(headerNewRef); newRef != "" {
			return nil, &StaleReferenceError{Provider: p.id, OldRef: ref, NewRef: newRef}
		}
	}
	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, p.backendError("read", resp.StatusCode, body, nil)
	}

	if maxLength < 0 {
		maxLength = 0
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLength))
	if err != nil {
		return nil, p.backendError("read", resp.StatusCode, nil, err)
	}
	return data, nil
}

func (p *HTTPProvider) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do executes a request and returns the status and the full body
func (p *HTTPProvider) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (int, []byte, error) {
	req, err := p.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return 0, nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (p *HTTPProvider) backendError(op string, status int, body []byte, err error) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	be := &BackendError{Provider: p.id, Op: op, StatusCode: status, Body: string(body), Err: err}
	p.logger.Warn("upstream request failed", zap.Error(be))
	return be
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// httpSession is an upload in progress on an HTTPProvider
type httpSession struct {
	provider  *HTTPProvider
	token     string
	chunkSize int

	offset    int64
	hash      hash.Hash
	chunks    []ChunkInfo
	finalized bool
}

func (s *httpSession) ChunkSize() int { return s.chunkSize }

func (s *httpSession) Size() int64 { return s.offset }

func (s *httpSession) Chunks() []ChunkInfo {
	return append([]ChunkInfo(nil), s.chunks...)
}

func (s *httpSession) Append(ctx context.Context, p []byte) error {
	if s.finalized {
		return ErrSessionFinalized
	}
	if len(p) > s.chunkSize {
		return ErrChunkTooLarge
	}

	query := url.Values{}
	query.Set("token", s.token)
	query.Set("offset", strconv.FormatInt(s.offset, 10))

	op := fmt.Sprintf("upload chunk at %d", s.offset)
	status, body, err := s.provider.do(ctx, http.MethodPost, "/v1/upload/chunk", query, bytes.NewReader(p), "application/octet-stream")
	if err != nil {
		return s.provider.backendError(op, 0, nil, err)
	}
	if !isSuccess(status) {
		return s.provider.backendError(op, status, body, nil)
	}

	// recorded only once the provider holds the chunk
	s.chunks = append(s.chunks, ChunkInfo{Start: s.offset, Length: len(p), MD5: md5.Sum(p)})
	s.offset += int64(len(p))
	s.hash.Write(p)
	return nil
}

func (s *httpSession) Finalize(ctx context.Context, name string) (string, error) {
	if s.finalized {
		return "", ErrSessionFinalized
	}

	payload, err := json.Marshal(struct {
		Name string `json:"name"`
		MD5  string `json:"md5"`
	}{Name: name, MD5: hex.EncodeToString(s.hash.Sum(nil))})
	if err != nil {
		return "", fmt.Errorf("marshal finalize request: %w", err)
	}

	query := url.Values{}
	query.Set("token", s.token)
	status, body, err := s.provider.do(ctx, http.MethodPost, "/v1/upload/finalize", query, bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", s.provider.backendError("upload finalize", 0, nil, err)
	}
	if !isSuccess(status) {
		return "", s.provider.backendError("upload finalize", status, body, nil)
	}

	ref := gjson.GetBytes(body, "ref")
	if ref.Type != gjson.String || ref.String() == "" {
		return "", s.provider.backendError("upload finalize", status, body, errors.New("malformed finalize response"))
	}

	s.finalized = true
	s.provider.logger.Debug("upload finalized",
		zap.String("name", name),
		zap.String("ref", ref.String()),
		zap.Int64("size", s.offset),
		zap.Int("chunks", len(s.chunks)),
	)
	return ref.String(), nil
}
