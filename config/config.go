// Package config loads the agent configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/approval"
	"github.com/bt-bridge/voice-repo-agent/github"
	"github.com/bt-bridge/voice-repo-agent/retry"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "VOICEREPO"

const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"

	ApprovalPrompt = "prompt"
	ApprovalAuto   = "auto"
)

type Config struct {
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Approval ApprovalConfig `mapstructure:"approval" yaml:"approval"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type RealtimeConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"` // also OPENAI_API_KEY
	Model          string        `mapstructure:"model" yaml:"model"`
	Voice          string        `mapstructure:"voice" yaml:"voice"`
	Transport      string        `mapstructure:"transport" yaml:"transport"` // webrtc or websocket
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	EventBuffer    int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

type SessionConfig struct {
	Instructions        string  `mapstructure:"instructions" yaml:"instructions"`
	VADEagerness        string  `mapstructure:"vad_eagerness" yaml:"vad_eagerness"`     // low, medium, high
	NoiseReduction      string  `mapstructure:"noise_reduction" yaml:"noise_reduction"` // near_field, far_field
	InputLanguage       string  `mapstructure:"input_language" yaml:"input_language"`
	TranscriptionPrompt string  `mapstructure:"transcription_prompt" yaml:"transcription_prompt"`
	TranscriptionModel  string  `mapstructure:"transcription_model" yaml:"transcription_model"`
	OutputSpeed         float64 `mapstructure:"output_speed" yaml:"output_speed"`
	MaxOutputTokens     int64   `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
}

type GitHubConfig struct {
	Token   string        `mapstructure:"token" yaml:"token"` // also GITHUB_TOKEN
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Factor       float64       `mapstructure:"factor" yaml:"factor"`
}

type ApprovalConfig struct {
	Mode    string        `mapstructure:"mode" yaml:"mode"` // prompt or auto
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Load reads configuration from path, or from config.yaml in the working
// directory or configs/ when path is empty. A missing default file is not an
// error. Environment variables override file values (prefix VOICEREPO_, dots
// replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("realtime.api_key", EnvPrefix+"_REALTIME_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, err
	}

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("realtime.endpoint", realtime.DefaultEndpoint)
	v.SetDefault("realtime.model", realtime.DefaultModel)
	v.SetDefault("realtime.voice", realtime.DefaultVoice)
	v.SetDefault("realtime.transport", TransportWebRTC)
	v.SetDefault("realtime.connect_timeout", 20*time.Second)
	v.SetDefault("realtime.event_buffer", 64)

	v.SetDefault("session.instructions", realtime.DefaultInstructions)
	v.SetDefault("session.vad_eagerness", realtime.DefaultVADEagerness)
	v.SetDefault("session.noise_reduction", realtime.DefaultNoiseReduction)
	v.SetDefault("session.input_language", "")
	v.SetDefault("session.transcription_prompt", "")
	v.SetDefault("session.transcription_model", realtime.DefaultTranscriptionModel)
	v.SetDefault("session.output_speed", realtime.DefaultOutputSpeed)
	v.SetDefault("session.max_output_tokens", realtime.DefaultMaxOutputTokens)

	v.SetDefault("github.base_url", github.DefaultBaseURL)
	v.SetDefault("github.timeout", github.DefaultTimeout)

	d := retry.DefaultPolicy()
	v.SetDefault("retry.max_attempts", d.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.InitialDelay)
	v.SetDefault("retry.max_delay", d.MaxDelay)
	v.SetDefault("retry.factor", d.Factor)

	v.SetDefault("approval.mode", ApprovalPrompt)
	v.SetDefault("approval.timeout", approval.DefaultTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "voice-repo.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 2)
	v.SetDefault("logging.max_age_days", 3)
	v.SetDefault("logging.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// Validate checks value ranges. Credentials are not required here; they are
// checked when a connection or GitHub call actually needs them.
func (c *Config) Validate() error {
	switch c.Realtime.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		return fmt.Errorf("realtime.transport must be %q or %q, got %q", TransportWebRTC, TransportWebSocket, c.Realtime.Transport)
	}
	if c.Realtime.ConnectTimeout <= 0 {
		return errors.New("realtime.connect_timeout must be positive")
	}
	if c.Realtime.EventBuffer <= 0 {
		return errors.New("realtime.event_buffer must be positive")
	}
	switch c.Session.VADEagerness {
	case "low", "medium", "high", "auto":
	default:
		return fmt.Errorf("session.vad_eagerness %q is not supported", c.Session.VADEagerness)
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.Factor < 1 {
		return errors.New("retry.factor must be at least 1")
	}
	switch c.Approval.Mode {
	case ApprovalPrompt, ApprovalAuto:
	default:
		return fmt.Errorf("approval.mode must be %q or %q, got %q", ApprovalPrompt, ApprovalAuto, c.Approval.Mode)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func (c *Config) RealtimeConfig() realtime.RealtimeConfig {
	return realtime.RealtimeConfig{
		Endpoint: c.Realtime.Endpoint,
		Secret:   c.Realtime.APIKey,
		Model:    c.Realtime.Model,
		Voice:    c.Realtime.Voice,
	}
}

func (c *Config) SessionSettings(tools []realtime.ToolDefinition) realtime.SessionSettings {
	s := realtime.DefaultSessionSettings()
	s.Instructions = c.Session.Instructions
	s.VADEagerness = c.Session.VADEagerness
	s.NoiseReduction = c.Session.NoiseReduction
	s.InputLanguage = c.Session.InputLanguage
	s.TranscriptionPrompt = c.Session.TranscriptionPrompt
	s.TranscriptionModel = c.Session.TranscriptionModel
	s.OutputSpeed = c.Session.OutputSpeed
	s.MaxOutputTokens = c.Session.MaxOutputTokens
	s.Tools = tools
	return s
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Factor:       c.Retry.Factor,
	}
}

// Logger builds the process logger. An empty logging.file logs to stderr.
func (c *Config) Logger() shared.LoggerAdapter {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if c.Logging.File == "" {
		return shared.NewStdLogger()
	}
	return shared.NewFileLogger(
		c.Logging.File, c.Logging.MaxSizeMB, c.Logging.MaxBackups, c.Logging.MaxAgeDays, c.Logging.Compress, level,
	)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.Realtime.APIKey = mask(c.Realtime.APIKey)
	c.GitHub.Token = mask(c.GitHub.Token)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}
