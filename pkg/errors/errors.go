package errors

import (
	"errors"
	"fmt"
	"net/http"

	"meetroom/internal/core/domain"
	"meetroom/pkg/circuitbreaker"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"

	ErrCodeMediaAccess      ErrorCode = "MEDIA_ACCESS"
	ErrCodeAdmissionDenied  ErrorCode = "ADMISSION_DENIED"
	ErrCodeRoomFull         ErrorCode = "ROOM_FULL"
	ErrCodeRecordingUpload  ErrorCode = "RECORDING_UPLOAD_FAILED"
	ErrCodeSignalingFailure ErrorCode = "SIGNALING_FAILURE"
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
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
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

// FromDomain maps room and meeting errors onto API errors. Errors it
// does not know become internal errors.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	var uploadErr *domain.RecordingUploadError
	switch {
	case errors.Is(err, domain.ErrMeetingNotFound):
		return WrapError(err, ErrCodeNotFound, "meeting not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrRoomNotFound):
		return WrapError(err, ErrCodeNotFound, "room not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrMeetingExists):
		return WrapError(err, ErrCodeConflict, "meeting already exists", http.StatusConflict)
	case errors.Is(err, domain.ErrNotHost):
		return WrapError(err, ErrCodeForbidden, "only the host can do this", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidState):
		return WrapError(err, ErrCodeConflict, "not allowed in the current room state", http.StatusConflict)
	case errors.Is(err, domain.ErrRecordingActive):
		return WrapError(err, ErrCodeConflict, "recording already active", http.StatusConflict)
	case errors.Is(err, domain.ErrNotRecording):
		return WrapError(err, ErrCodeConflict, "no recording to process", http.StatusConflict)
	case errors.Is(err, domain.ErrRoomFull):
		return WrapError(err, ErrCodeRoomFull, "room is full", http.StatusConflict)
	case errors.Is(err, domain.ErrRateLimited):
		return WrapError(err, ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrMediaAccess):
		return WrapError(err, ErrCodeMediaAccess, "media access denied or unavailable", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrAdmissionDenied):
		return WrapError(err, ErrCodeAdmissionDenied, "admission denied", http.StatusForbidden)
	case errors.Is(err, domain.ErrAdmissionCancelled), errors.Is(err, domain.ErrAdmissionTimeout):
		return WrapError(err, ErrCodeConflict, "admission ended", http.StatusConflict)
	case errors.As(err, &uploadErr):
		return WrapError(err, ErrCodeRecordingUpload, "recording upload failed, retry later", http.StatusBadGateway).
			WithContext("key", uploadErr.Artifact.Key)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return WrapError(err, ErrCodeServiceUnavailable, "storage temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrSignalingDelivery):
		return WrapError(err, ErrCodeSignalingFailure, "signaling delivery failed", http.StatusBadGateway)
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
