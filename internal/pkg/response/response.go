package response

import (
	"encoding/xml"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
)

const contentTypeXML = "application/xml"

// ErrorBody is the S3 <Error> document
type ErrorBody struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId,omitempty"`
}

// XML writes v as an XML document with the standard declaration
func XML(c *gin.Context, status int, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		_ = c.Error(err)
		return
	}
	c.Data(status, contentTypeXML, append([]byte(xml.Header), body...))
}

// HandleError renders err as an S3 error document. Errors that are not
// AppErrors are rendered as an opaque InternalError.
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code := apperrors.ExtractCode(err)

	var resource string
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		resource = appErr.Resource
	}

	ErrorWithCode(c, code, resource)
}

// ErrorWithCode renders the error document for code
func ErrorWithCode(c *gin.Context, code apperrors.Code, resource string) {
	status := apperrors.GetHTTPStatus(code)
	body := ErrorBody{
		Code:      apperrors.GetS3Code(code),
		Message:   apperrors.GetMessage(code),
		Resource:  resource,
		RequestID: logger.GetRequestID(c.Request.Context()),
	}
	if c.Request.Method == http.MethodHead {
		// HEAD responses carry no body
		c.Status(status)
		return
	}
	XML(c, status, body)
}

// HealthStatus is the JSON body of the liveness endpoint
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis,omitempty"`
}

// Health writes a health document
func Health(c *gin.Context, status int, h HealthStatus) {
	c.JSON(status, h)
}
