// Package upstreamtest provides an in-process upstream provider speaking the
// chunked HTTP upload protocol, for tests.
package upstreamtest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
)

// Server is a fake provider. Files live in memory.
type Server struct {
	*httptest.Server

	chunkSize   int
	segmentSize int

	mu         sync.Mutex
	nextID     int
	sessions   map[string]*session
	files      map[string][]byte
	moved      map[string]string // old ref -> new ref
	userAgents map[string]struct{}
	failReads  bool

	reads atomic.Int64
}

type session struct {
	data []byte
}

// Option configures a Server
type Option func(*Server)

// WithChunkSize sets the chunk size announced on upload start
func WithChunkSize(n int) Option {
	return func(s *Server) { s.chunkSize = n }
}

// WithSegmentSize caps the bytes returned by a single read, simulating a
// provider that serves files in smaller segments than it accepts them
func WithSegmentSize(n int) Option {
	return func(s *Server) { s.segmentSize = n }
}

// New starts a fake provider that is shut down when the test ends
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		chunkSize:  4,
		sessions:   make(map[string]*session),
		files:      make(map[string][]byte),
		moved:      make(map[string]string),
		userAgents: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		s.mu.Lock()
		s.userAgents[c.Request.UserAgent()] = struct{}{}
		s.mu.Unlock()
		c.Next()
	})
	r.POST("/v1/upload/start", s.handleStart)
	r.POST("/v1/upload/chunk", s.handleChunk)
	r.POST("/v1/upload/finalize", s.handleFinalize)
	r.GET("/v1/files/:ref/chunks/:offset", s.handleRead)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) handleStart(c *gin.Context) {
	if v := c.Query("file_size"); v != "" {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			c.String(http.StatusBadRequest, "bad file_size")
			return
		}
	}

	s.mu.Lock()
	s.nextID++
	token := fmt.Sprintf("token-%d", s.nextID)
	s.sessions[token] = &session{}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"token": token, "chunk_size": s.chunkSize})
}

func (s *Server) handleChunk(c *gin.Context) {
	offset, err := strconv.ParseInt(c.Query("offset"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "bad offset")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.Query("token")]
	switch {
	case !ok:
		c.String(http.StatusNotFound, "unknown token")
	case offset != int64(len(sess.data)):
		c.String(http.StatusBadRequest, "expected offset %d, got %d", len(sess.data), offset)
	case len(body) > s.chunkSize:
		c.String(http.StatusRequestEntityTooLarge, "chunk of %d bytes exceeds %d", len(body), s.chunkSize)
	default:
		sess.data = append(sess.data, body...)
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleFinalize(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		MD5  string `json:"md5"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := c.Query("token")
	sess, ok := s.sessions[token]
	if !ok {
		c.String(http.StatusNotFound, "unknown token")
		return
	}
	sum := md5.Sum(sess.data)
	if hex.EncodeToString(sum[:]) != req.MD5 {
		c.String(http.StatusBadRequest, "md5 mismatch")
		return
	}

	delete(s.sessions, token)
	s.nextID++
	ref := fmt.Sprintf("ref-%d", s.nextID)
	s.files[ref] = sess.data
	c.JSON(http.StatusOK, gin.H{"ref": ref})
}

func (s *Server) handleRead(c *gin.Context) {
	s.reads.Add(1)
	offset, err := strconv.ParseInt(c.Param("offset"), 10, 64)
	if err != nil || offset < 0 {
		c.String(http.StatusBadRequest, "bad offset")
		return
	}

	s.mu.Lock()
	ref := c.Param("ref")
	if newRef, ok := s.moved[ref]; ok {
		s.mu.Unlock()
		c.Header("X-New-Ref", newRef)
		c.String(http.StatusConflict, "moved")
		return
	}
	data, ok := s.files[ref]
	fail := s.failReads
	s.mu.Unlock()

	switch {
	case fail:
		c.String(http.StatusBadGateway, "backend down")
		return
	case !ok:
		c.String(http.StatusNotFound, "no such file")
		return
	}

	if offset >= int64(len(data)) {
		c.Data(http.StatusOK, "application/octet-stream", nil)
		return
	}
	end := int64(len(data))
	if s.segmentSize > 0 && offset+int64(s.segmentSize) < end {
		end = offset + int64(s.segmentSize)
	}
	c.Data(http.StatusOK, "application/octet-stream", data[offset:end])
}

// File returns the stored content of ref
func (s *Server) File(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[ref]
	return data, ok
}

// Files returns the number of finalized files
func (s *Server) Files() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Put stores content directly under ref
func (s *Server) Put(ref string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[ref] = content
}

// Move relocates ref; reads of the old ref answer 409 with X-New-Ref
func (s *Server) Move(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	newRef := fmt.Sprintf("ref-%d", s.nextID)
	s.files[newRef] = s.files[ref]
	delete(s.files, ref)
	s.moved[ref] = newRef
	return newRef
}

// FailReads makes every read answer 502
func (s *Server) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// Reads returns the number of read requests served
func (s *Server) Reads() int64 {
	return s.reads.Load()
}

// SawUserAgent reports whether any request carried ua
func (s *Server) SawUserAgent(ua string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userAgents[ua]
	return ok
}
