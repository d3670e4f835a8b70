package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/logger"
)

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestHandleError(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   ErrorType
	}{
		{
			name:           "validation",
			err:            NewValidationError("offset_seconds is required"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "standard error",
			err:            errors.New("something went wrong"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeInternal,
		},
		{
			name:           "no session",
			err:            NewConflictError("no active session"),
			expectedStatus: http.StatusConflict,
			expectedType:   ErrorTypeConflict,
		},
		{
			name:           "rate limited",
			err:            NewRateLimitError("too many seeks"),
			expectedStatus: http.StatusTooManyRequests,
			expectedType:   ErrorTypeRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/playback/seek", nil)
			req.Header.Set("X-Request-ID", "test-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			response := decodeResponse(t, rr)
			assert.Equal(t, tt.expectedType, response.Error.Type)
			assert.NotEmpty(t, response.Error.Message)
			assert.Equal(t, "test-123", response.TraceID)
		})
	}
}

func TestHandleNotFoundAndMethod(t *testing.T) {
	handler := NewErrorHandler(nil)

	rr := httptest.NewRecorder()
	handler.HandleNotFound(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, decodeResponse(t, rr).Error.Message, "endpoint")

	rr = httptest.NewRecorder()
	handler.HandleMethodNotAllowed(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, ErrorTypeValidation, decodeResponse(t, rr).Error.Type)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeResponse(t, rr).Error.Message, "unexpected error")
}
