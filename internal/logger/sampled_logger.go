package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate-limits high-frequency log categories.
// Categories without a sampler always log; errors are never sampled.
type SampledLogger struct {
	Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu       sync.RWMutex
	samplers map[string]*logSampler
}

type logSampler struct {
	limiter *rate.Limiter
	total   atomic.Int64
	dropped atomic.Int64
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name    string `json:"name"`
	Total   int64  `json:"total"`
	Dropped int64  `json:"dropped"`
}

// Playback log categories
const (
	CategoryAudioUnderrun  = "audio_underrun"
	CategoryFrameWait      = "frame_wait"
	CategorySyncAdjustment = "sync_adjustment"
	CategoryDecodeError    = "decode_error"
	CategoryThrottle       = "throttle"
)

// NewSampledLogger creates a sampled logger with no categories configured.
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		Logger:   base,
		samplers: &samplerSet{samplers: make(map[string]*logSampler)},
	}
}

// NewPlaybackLogger creates a sampled logger with the playback categories configured.
func NewPlaybackLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryAudioUnderrun, time.Second, 3).
		WithSampler(CategoryFrameWait, time.Second, 2).
		WithSampler(CategorySyncAdjustment, time.Second, 2).
		WithSampler(CategoryDecodeError, 500*time.Millisecond, 5).
		WithSampler(CategoryThrottle, 2*time.Second, 1)
}

// WithSampler allows one message per interval for a category after a burst.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()
	s.samplers.samplers[category] = &logSampler{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
	return s
}

func (s *SampledLogger) shouldLog(category string) bool {
	s.samplers.mu.RLock()
	sampler, ok := s.samplers.samplers[category]
	s.samplers.mu.RUnlock()
	if !ok {
		return true
	}

	sampler.total.Add(1)
	if sampler.limiter.Allow() {
		return true
	}
	sampler.dropped.Add(1)
	return false
}

// Sampled logs msg at level if the category's sampler allows it.
func (s *SampledLogger) Sampled(level logrus.Level, category, msg string, fields Fields) {
	if level > logrus.ErrorLevel && !s.shouldLog(category) {
		return
	}
	if fields == nil {
		fields = Fields{}
	}
	fields["category"] = category
	s.Logger.WithFields(fields).Log(level, msg)
}

// Stats returns statistics for all samplers.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.samplers))
	for name, sampler := range s.samplers.samplers {
		stats[name] = SamplerStats{
			Name:    name,
			Total:   sampler.total.Load(),
			Dropped: sampler.dropped.Load(),
		}
	}
	return stats
}

// WithField keeps the samplers shared with the parent.
func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), samplers: s.samplers}
}

// WithFields keeps the samplers shared with the parent.
func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), samplers: s.samplers}
}

// WithError keeps the samplers shared with the parent.
func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), samplers: s.samplers}
}
