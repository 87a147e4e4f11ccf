// Package errors defines the service error taxonomy shared by every layer of the API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the machine-readable class reported in the error envelope.
type ErrorType string

const (
	TypeValidation      ErrorType = "VALIDATION_ERROR"
	TypeAuthentication  ErrorType = "AUTHENTICATION_ERROR"
	TypeAuthorization   ErrorType = "AUTHORIZATION_ERROR"
	TypeNotFound        ErrorType = "NOT_FOUND"
	TypeConflict        ErrorType = "CONFLICT"
	TypeInternal        ErrorType = "INTERNAL_SERVER_ERROR"
	TypeExternalService ErrorType = "EXTERNAL_SERVICE_ERROR"
	TypeTimeout         ErrorType = "TIMEOUT_ERROR"
	TypeNetwork         ErrorType = "NETWORK_ERROR"
	TypeUnknown         ErrorType = "UNKNOWN_ERROR"
)

// Detail codes for failures of the outbound call wrapper.
const (
	CodeRequestTimeout = "REQUEST_TIMEOUT"
	CodeNetworkFailure = "NETWORK_FAILURE"
	CodeServerError    = "SERVER_ERROR"
)

// Reasons classify authentication and authorization failures.
const (
	ReasonMissingCredentials = "missing-credentials"
	ReasonMalformed          = "malformed"
	ReasonExpired            = "expired"
	ReasonWrongType          = "wrong-type"
	ReasonInsufficientScope  = "insufficient-scope"
)

var statusTypes = map[int]ErrorType{
	http.StatusBadRequest:          TypeValidation,
	http.StatusUnauthorized:        TypeAuthentication,
	http.StatusForbidden:           TypeAuthorization,
	http.StatusNotFound:            TypeNotFound,
	http.StatusConflict:            TypeConflict,
	http.StatusUnprocessableEntity: TypeValidation,
	http.StatusInternalServerError: TypeInternal,
	http.StatusBadGateway:          TypeExternalService,
	http.StatusGatewayTimeout:      TypeTimeout,
}

// TypeForStatus returns the error type used for a generic HTTP error with the given status.
func TypeForStatus(status int) ErrorType {
	if t, ok := statusTypes[status]; ok {
		return t
	}
	return TypeUnknown
}

// HTTPCode returns the detail code used for a generic HTTP error, e.g. HTTP_404.
func HTTPCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// ServiceError is a classified failure that knows how it must be rendered over HTTP.
type ServiceError struct {
	Type       ErrorType
	Code       string
	Reason     string
	Message    string
	Field      string
	HTTPStatus int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithField names the input field that caused the error.
func (e *ServiceError) WithField(field string) *ServiceError {
	e.Field = field
	return e
}

// WithReason attaches a classification reason.
func (e *ServiceError) WithReason(reason string) *ServiceError {
	e.Reason = reason
	return e
}

// New creates a generic HTTP error whose type and code are derived from status.
func New(status int, message string) *ServiceError {
	return &ServiceError{
		Type:       TypeForStatus(status),
		Code:       HTTPCode(status),
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap is New with an underlying cause.
func Wrap(status int, message string, err error) *ServiceError {
	se := New(status, message)
	se.Err = err
	return se
}

// Authentication reports missing, invalid or expired credentials.
func Authentication(reason, message string) *ServiceError {
	return New(http.StatusUnauthorized, message).WithReason(reason)
}

// Authorization reports an authenticated caller lacking a capability.
func Authorization(reason, message string) *ServiceError {
	return New(http.StatusForbidden, message).WithReason(reason)
}

// BadRequest reports malformed request parameters.
func BadRequest(message string) *ServiceError {
	return New(http.StatusBadRequest, message)
}

// Validation reports a request body that failed schema or invariant checks.
func Validation(field, message string) *ServiceError {
	return New(http.StatusUnprocessableEntity, message).WithField(field)
}

// NotFound reports an unknown resource.
func NotFound(message string, err error) *ServiceError {
	return Wrap(http.StatusNotFound, message, err)
}

// Conflict reports a duplicate resource.
func Conflict(message string, err error) *ServiceError {
	return Wrap(http.StatusConflict, message, err)
}

// TooManyRequests reports a caller over its rate limit.
func TooManyRequests(message string) *ServiceError {
	return New(http.StatusTooManyRequests, message)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(http.StatusInternalServerError, message, err)
}

// Timeout reports an outbound call that kept timing out.
func Timeout(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       TypeTimeout,
		Code:       CodeRequestTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// Network reports an outbound call that kept failing at the transport level.
func Network(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       TypeNetwork,
		Code:       CodeNetworkFailure,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Server reports an upstream that answered with a 5xx status or an unusable body.
func Server(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       TypeExternalService,
		Code:       CodeServerError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// ReasonOf returns the classification reason of err, or "" when it has none.
func ReasonOf(err error) string {
	if se := GetServiceError(err); se != nil {
		return se.Reason
	}
	return ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
