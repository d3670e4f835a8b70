package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:    "invalid level",
			config:  &config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cadence.log")
	log, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: path, MaxSize: 1})
	require.NoError(t, err)

	Root(log).WithField("component", "test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "cadence", entry["service"])
	assert.Equal(t, "test", entry["component"])
}

func TestAdapterChaining(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	base := NewLogrusAdapter(logrus.NewEntry(log))
	child := WithComponent(base, "dispatcher").WithField("stream", "video")
	child.Info("routed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "video", entry["stream"])

	// The parent is untouched by child fields.
	buf.Reset()
	base.Info("plain")
	entry = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "component")
}

func TestWithComponentNil(t *testing.T) {
	log := WithComponent(nil, "x")
	assert.NotNil(t, log)
	log.Info("discarded")
}

func TestSampledLoggerLimitsCategory(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	sampled := NewSampledLogger(NewLogrusAdapter(logrus.NewEntry(log))).
		WithSampler("noisy", time.Hour, 2)

	for i := 0; i < 10; i++ {
		sampled.Sampled(logrus.WarnLevel, "noisy", "underrun", nil)
	}
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	stats := sampled.Stats()["noisy"]
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(8), stats.Dropped)

	// Unconfigured categories and errors always log.
	buf.Reset()
	sampled.Sampled(logrus.InfoLevel, "other", "a", nil)
	sampled.Sampled(logrus.ErrorLevel, "noisy", "b", Fields{"k": 1})
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestSampledLoggerChildrenShareSamplers(t *testing.T) {
	sampled := NewPlaybackLogger(NewNullLogger())
	child, ok := sampled.WithField("component", "audio").(*SampledLogger)
	require.True(t, ok)

	child.Sampled(logrus.WarnLevel, CategoryAudioUnderrun, "underrun", nil)
	assert.Equal(t, int64(1), sampled.Stats()[CategoryAudioUnderrun].Total)
}

func TestRequestLoggerMiddleware(t *testing.T) {
	var gotID string
	var gotLogger Logger
	handler := RequestLoggerMiddleware(NewNullLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		gotLogger = FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	assert.NotEmpty(t, gotID)
	assert.NotNil(t, gotLogger)
	assert.Equal(t, gotID, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// An incoming id is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", gotID)
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, rw.StatusCode())
}
