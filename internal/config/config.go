package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Playback PlaybackConfig `mapstructure:"playback"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Display  DisplayConfig  `mapstructure:"display"`
	API      APIConfig      `mapstructure:"api"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type PlaybackConfig struct {
	InitialVolume float64       `mapstructure:"initial_volume"`
	VolumeStep    float64       `mapstructure:"volume_step"`
	SeekStep      time.Duration `mapstructure:"seek_step"`
	SeekRate      float64       `mapstructure:"seek_rate"` // seeks per second
	SeekBurst     int           `mapstructure:"seek_burst"`

	QueueThreshold   int           `mapstructure:"queue_threshold"` // units per stream before the dispatcher throttles
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	StoppedPoll      time.Duration `mapstructure:"stopped_poll"`

	FirstTick   time.Duration `mapstructure:"first_tick"`
	StoppedTick time.Duration `mapstructure:"stopped_tick"`
	FrameWait   time.Duration `mapstructure:"frame_wait"`
	EndGuard    time.Duration `mapstructure:"end_guard"` // seek targets are clamped this far below the duration

	Resume bool `mapstructure:"resume"`
}

type SyncConfig struct {
	ThresholdMin         time.Duration `mapstructure:"threshold_min"`
	ThresholdMax         time.Duration `mapstructure:"threshold_max"`
	NoSyncThreshold      time.Duration `mapstructure:"no_sync_threshold"`
	CorrectionFactor     float64       `mapstructure:"correction_factor"`
	MaxCorrectionStep    time.Duration `mapstructure:"max_correction_step"`
	MinDelay             time.Duration `mapstructure:"min_delay"`
	DefaultFrameDuration time.Duration `mapstructure:"default_frame_duration"`
	DriftWindow          int           `mapstructure:"drift_window"`
}

type AudioConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Backend      string        `mapstructure:"backend"` // oto, headless, none
	SampleRate   int           `mapstructure:"sample_rate"`
	Channels     int           `mapstructure:"channels"`
	UnderrunWait time.Duration `mapstructure:"underrun_wait"`
	Period       time.Duration `mapstructure:"period"`        // headless pull period
	DeviceBuffer time.Duration `mapstructure:"device_buffer"` // audio held by the sound card ahead of playback
}

type DisplayConfig struct {
	Backend    string `mapstructure:"backend"` // sdl, terminal, headless
	Title      string `mapstructure:"title"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	Fullscreen bool   `mapstructure:"fullscreen"`
	FontPath   string `mapstructure:"font_path"`
	FontSize   int    `mapstructure:"font_size"`
	Overlay    bool   `mapstructure:"overlay"`
}

type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst       int           `mapstructure:"rate_burst"`
}

type HistoryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
	MinPosition time.Duration `mapstructure:"min_position"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// Load reads configuration from an optional YAML file, CADENCE_* environment
// variables and defaults, then validates it. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("CADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Playback defaults
	v.SetDefault("playback.initial_volume", 0.3)
	v.SetDefault("playback.volume_step", 0.05)
	v.SetDefault("playback.seek_step", "10s")
	v.SetDefault("playback.seek_rate", 4.0)
	v.SetDefault("playback.seek_burst", 2)
	v.SetDefault("playback.queue_threshold", 60)
	v.SetDefault("playback.throttle_interval", "100ms")
	v.SetDefault("playback.stopped_poll", "100ms")
	v.SetDefault("playback.first_tick", "10ms")
	v.SetDefault("playback.stopped_tick", "100ms")
	v.SetDefault("playback.frame_wait", "500ms")
	v.SetDefault("playback.end_guard", "1s")
	v.SetDefault("playback.resume", false)

	// Sync defaults
	v.SetDefault("sync.threshold_min", "40ms")
	v.SetDefault("sync.threshold_max", "100ms")
	v.SetDefault("sync.no_sync_threshold", "10s")
	v.SetDefault("sync.correction_factor", 0.5)
	v.SetDefault("sync.max_correction_step", "100ms")
	v.SetDefault("sync.min_delay", "10ms")
	v.SetDefault("sync.default_frame_duration", "40ms")
	v.SetDefault("sync.drift_window", 100)

	// Audio defaults
	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.backend", "oto")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.underrun_wait", "20ms")
	v.SetDefault("audio.period", "10ms")
	v.SetDefault("audio.device_buffer", "100ms")

	// Display defaults
	v.SetDefault("display.backend", "sdl")
	v.SetDefault("display.title", "cadence")
	v.SetDefault("display.width", 1280)
	v.SetDefault("display.height", 720)
	v.SetDefault("display.fullscreen", false)
	v.SetDefault("display.font_path", "")
	v.SetDefault("display.font_size", 24)
	v.SetDefault("display.overlay", true)

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", "127.0.0.1")
	v.SetDefault("api.port", 8070)
	v.SetDefault("api.read_timeout", "5s")
	v.SetDefault("api.write_timeout", "5s")
	v.SetDefault("api.shutdown_timeout", "5s")
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 10)

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.db", 0)
	v.SetDefault("history.key_prefix", "cadence:history:")
	v.SetDefault("history.ttl", "720h")
	v.SetDefault("history.min_position", "5s")
	v.SetDefault("history.dial_timeout", "2s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
}
