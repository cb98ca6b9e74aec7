package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "REKAPO"

// Config stores runtime configuration for the recorder.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Session SessionConfig `mapstructure:"session"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Preflight bool          `mapstructure:"preflight"`
}

type StreamConfig struct {
	ModelSize   string        `mapstructure:"model_size" validate:"oneof=tiny base small medium large"`
	NoiseFilter string        `mapstructure:"noise_filter"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"ffmpeg_command" validate:"required"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	ChunkDir        string `mapstructure:"chunk_dir"`
}

type SessionConfig struct {
	DefaultTitle     string        `mapstructure:"default_title"`
	ChunkDuration    time.Duration `mapstructure:"chunk_duration"`
	MinChunkDuration time.Duration `mapstructure:"min_chunk_duration"`
	MaxRetries       int           `mapstructure:"max_retries" validate:"gte=1,lte=10"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	TeardownGrace    time.Duration `mapstructure:"teardown_grace"`
}

type RulesConfig struct {
	Path           string `mapstructure:"file"`
	IterationLimit int    `mapstructure:"iteration_limit"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Load resolves configuration from defaults, an optional config file
// (REKAPO_CONFIG_FILE) and REKAPO_* environment variables.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, home)

	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	appDir := filepath.Join(home, ".config", "rekapo")

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.preflight", true)

	v.SetDefault("stream.model_size", "small")
	v.SetDefault("stream.noise_filter", "")
	v.SetDefault("stream.open_timeout", 5*time.Second)

	v.SetDefault("audio.ffmpeg_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_dir", filepath.Join(os.TempDir(), "rekapo-chunks"))

	v.SetDefault("session.default_title", "Untitled Meeting")
	v.SetDefault("session.chunk_duration", 10*time.Second)
	v.SetDefault("session.min_chunk_duration", 500*time.Millisecond)
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.retry_backoff", time.Second)
	v.SetDefault("session.teardown_grace", 200*time.Millisecond)

	v.SetDefault("rules.file", filepath.Join(appDir, "vocabulary.rules"))
	v.SetDefault("rules.iteration_limit", 30)

	v.SetDefault("journal.path", filepath.Join(appDir, "journal.sqlite"))

	v.SetDefault("log.level", "info")
}

// normalize replaces out-of-range values with their defaults.
func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Stream.ModelSize = strings.ToLower(strings.TrimSpace(c.Stream.ModelSize))

	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Stream.OpenTimeout <= 0 {
		c.Stream.OpenTimeout = 5 * time.Second
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if strings.TrimSpace(c.Session.DefaultTitle) == "" {
		c.Session.DefaultTitle = "Untitled Meeting"
	}
	if c.Session.ChunkDuration <= 0 {
		c.Session.ChunkDuration = 10 * time.Second
	}
	if c.Session.MinChunkDuration <= 0 {
		c.Session.MinChunkDuration = 500 * time.Millisecond
	}
	if c.Session.RetryBackoff <= 0 {
		c.Session.RetryBackoff = time.Second
	}
	if c.Session.TeardownGrace <= 0 {
		c.Session.TeardownGrace = 200 * time.Millisecond
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = 30
	}
}

// NoiseFilterHint returns the configured filter hint, or nil when unset.
func (c Config) NoiseFilterHint() *string {
	hint := strings.TrimSpace(c.Stream.NoiseFilter)
	if hint == "" {
		return nil
	}
	return &hint
}
