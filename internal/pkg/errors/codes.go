package errors

import (
	"net/http"
)

// Code is an error kind. Each kind maps to the S3 error code rendered to
// clients and the HTTP status it is returned with.
type Code string

// Error kinds
const (
	ErrNoSuchBucket         Code = "NoSuchBucket"
	ErrNoSuchKey            Code = "NoSuchKey"
	ErrBucketNotEmpty       Code = "BucketNotEmpty"
	ErrInvalidBucketName    Code = "InvalidBucketName"
	ErrInvalidArgument      Code = "InvalidArgument"
	ErrInvalidRange         Code = "InvalidRange"
	ErrMissingContentLength Code = "MissingContentLength"
	ErrIncompleteBody       Code = "IncompleteBody"
	ErrNotImplemented       Code = "NotImplemented"
	ErrSlowDown             Code = "SlowDown"

	// ErrBackendUnavailable is raised when the data of an object lives on an
	// upstream provider this gateway has not been configured with.
	ErrBackendUnavailable Code = "BackendUnavailable"
	// ErrDataUnavailable means the recorded pieces do not cover the requested bytes.
	ErrDataUnavailable Code = "DataUnavailable"
	// ErrBackendFailure wraps a failed upstream provider call.
	ErrBackendFailure Code = "BackendFailure"
	ErrInternal       Code = "InternalError"
)

type codeInfo struct {
	Status  int
	S3Code  string // code rendered in the <Error> document
	Message string
}

var codeMap = map[Code]codeInfo{
	ErrNoSuchBucket:         {http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist."},
	ErrNoSuchKey:            {http.StatusNotFound, "NoSuchKey", "The specified key does not exist."},
	ErrBucketNotEmpty:       {http.StatusConflict, "BucketNotEmpty", "The bucket you tried to delete is not empty."},
	ErrInvalidBucketName:    {http.StatusBadRequest, "InvalidBucketName", "The specified bucket is not valid."},
	ErrInvalidArgument:      {http.StatusBadRequest, "InvalidArgument", "Invalid Argument."},
	ErrInvalidRange:         {http.StatusRequestedRangeNotSatisfiable, "InvalidRange", "The requested range is not satisfiable."},
	ErrMissingContentLength: {http.StatusLengthRequired, "MissingContentLength", "You must provide the Content-Length HTTP header."},
	ErrIncompleteBody:       {http.StatusBadRequest, "IncompleteBody", "You did not provide the number of bytes specified by the Content-Length HTTP header."},
	ErrNotImplemented:       {http.StatusNotImplemented, "NotImplemented", "A header or query you provided implies functionality that is not implemented."},
	ErrSlowDown:             {http.StatusServiceUnavailable, "SlowDown", "Please reduce your request rate."},
	ErrBackendUnavailable:   {http.StatusServiceUnavailable, "ServiceUnavailable", "The storage backend holding this object is not available."},
	ErrDataUnavailable:      {http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again."},
	ErrBackendFailure:       {http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again."},
	ErrInternal:             {http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again."},
}

func lookup(code Code) codeInfo {
	if info, ok := codeMap[code]; ok {
		return info
	}
	return codeMap[ErrInternal]
}

// GetHTTPStatus returns the HTTP status for a code
func GetHTTPStatus(code Code) int {
	return lookup(code).Status
}

// GetMessage returns the client facing message for a code
func GetMessage(code Code) string {
	return lookup(code).Message
}

// GetS3Code returns the S3 error code string rendered for a code
func GetS3Code(code Code) string {
	return lookup(code).S3Code
}

// IsServerError reports whether the code is answered with a 5xx status
func IsServerError(code Code) bool {
	return GetHTTPStatus(code) >= http.StatusInternalServerError
}
