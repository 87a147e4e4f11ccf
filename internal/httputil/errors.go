package httputil

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/logging"
)

// ErrorDetail is one entry of the envelope's details list.
type ErrorDetail struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Field   *string `json:"field"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error      bool          `json:"error"`
	Timestamp  time.Time     `json:"timestamp"`
	StatusCode int           `json:"status_code"`
	ErrorType  string        `json:"error_type"`
	Details    []ErrorDetail `json:"details"`
	RequestID  string        `json:"request_id,omitempty"`
}

// statusCoder is satisfied by errors that carry an HTTP status
// but are not service errors, such as an upstream 4xx.
type statusCoder interface {
	HTTPStatus() int
}

// MapError translates err into a status code and envelope.
// The envelope's request id is taken from ctx or freshly generated.
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	status, errType, code, message, field := classify(err)

	requestID := logging.GetCorrelationID(ctx)
	if requestID == "" {
		requestID = logging.NewCorrelationID()
	}

	detail := ErrorDetail{Code: code, Message: message}
	if field != "" {
		detail.Field = &field
	}

	return status, ErrorResponse{
		Error:      true,
		Timestamp:  time.Now().UTC(),
		StatusCode: status,
		ErrorType:  string(errType),
		Details:    []ErrorDetail{detail},
		RequestID:  requestID,
	}
}

func classify(err error) (int, errors.ErrorType, string, string, string) {
	if se := errors.GetServiceError(err); se != nil {
		status := se.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		errType := se.Type
		if errType == "" {
			errType = errors.TypeForStatus(status)
		}
		code := se.Code
		if code == "" {
			code = errors.HTTPCode(status)
		}
		return status, errType, code, se.Message, se.Field
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status, errors.TypeForStatus(status), errors.HTTPCode(status),
			fmt.Sprintf("External service returned %d %s", status, http.StatusText(status)), ""
	}

	status := http.StatusInternalServerError
	return status, errors.TypeForStatus(status), errors.HTTPCode(status), "Internal server error", ""
}

// WriteError renders err as an error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := MapError(r.Context(), err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	WriteJSON(w, status, body)
}

// NotFoundHandler renders unknown routes as an error envelope.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, errors.New(http.StatusNotFound, "Not Found"))
	})
}

// MethodNotAllowedHandler renders unsupported methods as an error envelope.
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, errors.New(http.StatusMethodNotAllowed, "Method Not Allowed"))
	})
}
