package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned when a provider id is not registered
	ErrUnknownProvider = errors.New("upstream: unknown provider")
	// ErrChunkTooLarge is returned when Append receives more than ChunkSize bytes
	ErrChunkTooLarge = errors.New("upstream: chunk exceeds session chunk size")
	// ErrSessionFinalized is returned when a finalized session is used again
	ErrSessionFinalized = errors.New("upstream: session already finalized")
)

// BackendError is a failed request to a provider
type BackendError struct {
	Provider   string
	Op         string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %s: %v", e.Provider, e.Op, e.Err)
	default:
		return fmt.Sprintf("upstream %s: %s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// StaleReferenceError reports that a provider has moved a file to a new
// reference. The read should be retried against NewRef.
type StaleReferenceError struct {
	Provider string
	OldRef   string
	NewRef   string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("upstream %s: reference %s is outdated, use %s", e.Provider, e.OldRef, e.NewRef)
}

// IsStaleReference returns the StaleReferenceError in err's chain, if any
func IsStaleReference(err error) (*StaleReferenceError, bool) {
	var stale *StaleReferenceError
	if errors.As(err, &stale) {
		return stale, true
	}
	return nil, false
}
