package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/logger"
)

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	s := New(cfg, playing(), nil, logger.Test())

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/status", "").Code)

	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.ErrorTypeRateLimit, decodeError(t, rec).Error.Type)

	// Probes are never limited.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/live", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, playing())
	called := false
	h := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/volume", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}

func TestCORSHeadersOnResponses(t *testing.T) {
	s := newTestServer(t, playing())
	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, playing())
	h := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("decoder exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.ErrorTypeInternal, decodeError(t, rec).Error.Type)
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	s := newTestServer(t, playing())
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/playback/{action:pause|resume|toggle|restart|quit}", "202"))

	do(t, s, http.MethodPost, "/api/v1/playback/pause", "")
	do(t, s, http.MethodPost, "/api/v1/playback/resume", "")

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/playback/{action:pause|resume|toggle|restart|quit}", "202"))
	assert.Equal(t, 2.0, after-before)
}

func TestMetricsMiddlewareSkipsProbes(t *testing.T) {
	s := newTestServer(t, playing())
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/live", "200"))
	do(t, s, http.MethodGet, "/live", "")
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/live", "200"))
	assert.Equal(t, before, after)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, playing())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
