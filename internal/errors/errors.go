package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

// Playback failures.
const (
	ErrorTypeStreamOpen  ErrorType = "STREAM_OPEN_ERROR"
	ErrorTypeNoVideo     ErrorType = "NO_VIDEO_STREAM"
	ErrorTypeSeek        ErrorType = "SEEK_ERROR"
	ErrorTypeAudioDevice ErrorType = "AUDIO_DEVICE_ERROR"
	ErrorTypeDisplay     ErrorType = "DISPLAY_ERROR"
	ErrorTypeDecode      ErrorType = "DECODE_ERROR"
	ErrorTypeUsage       ErrorType = "USAGE_ERROR"
	ErrorTypeConfig      ErrorType = "CONFIG_ERROR"
)

// API failures.
const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// NewStreamOpenError reports that the media at url could not be opened or probed.
func NewStreamOpenError(url string, err error) *AppError {
	return Wrap(err, ErrorTypeStreamOpen, "failed to open media", http.StatusBadGateway).
		WithDetails(map[string]interface{}{"url": url})
}

func NewNoVideoError(url string) *AppError {
	return New(ErrorTypeNoVideo, "media has no video stream", http.StatusUnprocessableEntity).
		WithDetails(map[string]interface{}{"url": url})
}

// NewSeekError reports a container reposition failure. It ends the session.
func NewSeekError(target float64, err error) *AppError {
	return Wrap(err, ErrorTypeSeek, "seek failed", http.StatusInternalServerError).
		WithDetails(map[string]interface{}{"target_seconds": target})
}

func NewAudioDeviceError(err error) *AppError {
	return Wrap(err, ErrorTypeAudioDevice, "audio device unavailable", http.StatusServiceUnavailable)
}

func NewDisplayError(err error) *AppError {
	return Wrap(err, ErrorTypeDisplay, "display unavailable", http.StatusServiceUnavailable)
}

func NewDecodeError(stream string, err error) *AppError {
	return Wrap(err, ErrorTypeDecode, "decoder failed", http.StatusInternalServerError).
		WithDetails(map[string]interface{}{"stream": stream})
}

func NewUsageError(message string) *AppError {
	return New(ErrorTypeUsage, message, http.StatusBadRequest)
}

func WrapConfigError(err error) *AppError {
	return Wrap(err, ErrorTypeConfig, "invalid configuration", http.StatusInternalServerError)
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message, http.StatusTooManyRequests)
}

func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// GetAppError extracts the first AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Type == errType
}

// ExitCode maps a terminal error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsType(err, ErrorTypeUsage):
		return 2
	default:
		return 1
	}
}
