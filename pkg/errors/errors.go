package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"relaylink/internal/core/domain"
)

// ErrorCode is the machine-readable code returned by the control API.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Session codes
	ErrCodeSDPMissing       ErrorCode = "SDP_MISSING"
	ErrCodeSDPRejected      ErrorCode = "SDP_REJECTED"
	ErrCodeStreamNotFound   ErrorCode = "STREAM_NOT_FOUND"
	ErrCodeSessionRemoved   ErrorCode = "SESSION_REMOVED"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrCodeUnsupportedTrack ErrorCode = "UNSUPPORTED_TRACK"
	ErrCodeSignalingFailed  ErrorCode = "SIGNALING_FAILED"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// FromDomain maps session errors onto API errors. AppErrors anywhere in the
// chain are returned as they are; unknown errors become internal errors.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	var rejected *domain.SdpOfferRejectedError
	switch {
	case stderrors.As(err, &rejected):
		return WrapError(err, ErrCodeSDPRejected, "relay rejected the SDP offer", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrMissingSDP):
		return WrapError(err, ErrCodeSDPMissing, "negotiation produced no SDP offer", http.StatusInternalServerError)
	case stderrors.Is(err, domain.ErrStreamNotFound):
		return WrapError(err, ErrCodeStreamNotFound, "stream not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrSessionRemoved):
		return WrapError(err, ErrCodeSessionRemoved, "session was removed by the relay", http.StatusGone)
	case stderrors.Is(err, domain.ErrNotConnected):
		return WrapError(err, ErrCodeNotConnected, "signaling is not connected", http.StatusServiceUnavailable)
	case stderrors.Is(err, domain.ErrUnsupportedTrack):
		return WrapError(err, ErrCodeUnsupportedTrack, "unsupported media track", http.StatusBadRequest)
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// SignalingFailed wraps a failed relay call.
func SignalingFailed(err error) *AppError {
	return WrapError(err, ErrCodeSignalingFailed, "signaling call failed", http.StatusBadGateway)
}

func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
