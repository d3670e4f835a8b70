package errors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	err := New(ErrorTypeValidation, "bad offset", http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR: bad offset", err.Error())
	assert.Nil(t, err.Unwrap())

	wrapped := Wrap(io.ErrUnexpectedEOF, ErrorTypeDecode, "decoder failed", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "caused by: unexpected EOF")
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF))

	withCode := NewInternalError("x").WithCode("E42").WithDetails(map[string]interface{}{"k": 1})
	assert.Equal(t, "E42", withCode.Code)
	assert.Equal(t, 1, withCode.Details["k"])
}

func TestPlaybackConstructors(t *testing.T) {
	cause := errors.New("no such file")

	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"stream open", NewStreamOpenError("/tmp/x.mkv", cause), ErrorTypeStreamOpen, http.StatusBadGateway},
		{"no video", NewNoVideoError("/tmp/x.mka"), ErrorTypeNoVideo, http.StatusUnprocessableEntity},
		{"seek", NewSeekError(12.5, cause), ErrorTypeSeek, http.StatusInternalServerError},
		{"audio device", NewAudioDeviceError(cause), ErrorTypeAudioDevice, http.StatusServiceUnavailable},
		{"display", NewDisplayError(cause), ErrorTypeDisplay, http.StatusServiceUnavailable},
		{"decode", NewDecodeError("video", cause), ErrorTypeDecode, http.StatusInternalServerError},
		{"usage", NewUsageError("missing media argument"), ErrorTypeUsage, http.StatusBadRequest},
		{"config", WrapConfigError(cause), ErrorTypeConfig, http.StatusInternalServerError},
		{"service down", NewServiceDownError("history"), ErrorTypeServiceDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}

	assert.Equal(t, "/tmp/x.mkv", NewStreamOpenError("/tmp/x.mkv", cause).Details["url"])
	assert.Equal(t, 12.5, NewSeekError(12.5, cause).Details["target_seconds"])
}

func TestGetAppErrorThroughWrapping(t *testing.T) {
	base := NewSeekError(3, errors.New("io"))
	wrapped := fmt.Errorf("session: %w", base)

	got, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, IsType(wrapped, ErrorTypeSeek))
	assert.False(t, IsType(wrapped, ErrorTypeUsage))

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsAppError(nil))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(NewUsageError("usage")))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("cli: %w", NewUsageError("usage"))))
	assert.Equal(t, 1, ExitCode(NewStreamOpenError("x", nil)))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}
