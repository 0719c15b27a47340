package realtime

import (
	"fmt"
	"net/url"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/realtime"
	DefaultModel    = "gpt-realtime"
	DefaultVoice    = "ash"
)

// RealtimeConfig holds the parameters of one connection attempt. The Secret
// never reaches a log line: String and MarshalLogObject redact it.
type RealtimeConfig struct {
	Endpoint string
	Secret   string
	Model    string
	Voice    string
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	return c
}

func (c RealtimeConfig) Validate() error {
	if c.Secret == "" {
		return shared.ErrNoAPIKey
	}
	if c.Endpoint == "" {
		return shared.ErrNoEndpoint
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("parsing endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q is not an absolute URL", c.Endpoint)
	}
	return nil
}

func (c RealtimeConfig) String() string {
	return fmt.Sprintf("RealtimeConfig{endpoint=%s model=%s voice=%s secret=%s}", c.Endpoint, c.Model, c.Voice, redact(c.Secret))
}

func (c RealtimeConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("endpoint", c.Endpoint)
	enc.AddString("model", c.Model)
	enc.AddString("voice", c.Voice)
	enc.AddString("secret", redact(c.Secret))
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return "<redacted>"
}
