package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display config: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func (p *PlaybackConfig) Validate() error {
	if p.InitialVolume < 0 || p.InitialVolume > 1 {
		return fmt.Errorf("initial_volume must be within [0,1]: %v", p.InitialVolume)
	}
	if p.VolumeStep <= 0 || p.VolumeStep > 1 {
		return fmt.Errorf("volume_step must be within (0,1]: %v", p.VolumeStep)
	}
	if p.SeekStep <= 0 {
		return fmt.Errorf("seek_step must be positive")
	}
	if p.SeekRate <= 0 || p.SeekBurst < 1 {
		return fmt.Errorf("seek_rate and seek_burst must be positive")
	}
	if p.QueueThreshold < 1 {
		return fmt.Errorf("queue_threshold must be at least 1")
	}
	for name, d := range map[string]interface{ Nanoseconds() int64 }{
		"throttle_interval": p.ThrottleInterval,
		"stopped_poll":      p.StoppedPoll,
		"first_tick":        p.FirstTick,
		"stopped_tick":      p.StoppedTick,
		"frame_wait":        p.FrameWait,
	} {
		if d.Nanoseconds() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if p.EndGuard < 0 {
		return fmt.Errorf("end_guard must not be negative")
	}
	return nil
}

func (s *SyncConfig) Validate() error {
	if s.MinDelay <= 0 {
		return fmt.Errorf("min_delay must be positive")
	}
	if s.ThresholdMin <= 0 || s.ThresholdMax < s.ThresholdMin {
		return fmt.Errorf("thresholds must satisfy 0 < threshold_min <= threshold_max")
	}
	if s.NoSyncThreshold <= s.ThresholdMax {
		return fmt.Errorf("no_sync_threshold must exceed threshold_max")
	}
	if s.CorrectionFactor <= 0 || s.CorrectionFactor > 1 {
		return fmt.Errorf("correction_factor must be within (0,1]: %v", s.CorrectionFactor)
	}
	if s.MaxCorrectionStep <= 0 {
		return fmt.Errorf("max_correction_step must be positive")
	}
	if s.DefaultFrameDuration < s.MinDelay {
		return fmt.Errorf("default_frame_duration must be at least min_delay")
	}
	if s.DriftWindow < 1 {
		return fmt.Errorf("drift_window must be at least 1")
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	switch a.Backend {
	case "oto", "headless", "none":
	default:
		return fmt.Errorf("unknown audio backend: %q", a.Backend)
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate: %d", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("invalid channels: %d", a.Channels)
	}
	if a.UnderrunWait <= 0 || a.Period <= 0 {
		return fmt.Errorf("underrun_wait and period must be positive")
	}
	return nil
}

func (d *DisplayConfig) Validate() error {
	switch d.Backend {
	case "sdl", "terminal", "headless":
	default:
		return fmt.Errorf("unknown display backend: %q", d.Backend)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("invalid window size: %dx%d", d.Width, d.Height)
	}
	if d.FontPath != "" && d.FontSize <= 0 {
		return fmt.Errorf("font_size must be positive")
	}
	return nil
}

func (a *APIConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("invalid port: %d", a.Port)
	}
	if a.RateLimit <= 0 || a.RateBurst < 1 {
		return fmt.Errorf("rate_limit and rate_burst must be positive")
	}
	return nil
}

func (h *HistoryConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}
	if h.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	if h.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if m.Path == "" {
		return fmt.Errorf("metrics path is required")
	}

	return nil
}
