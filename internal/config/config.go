// Package config provides the configuration schema and loader for the Lucy
// voice-agent server.
package config

// LogLevel controls log verbosity for the Lucy server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Lucy.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Cadence   CadenceConfig   `yaml:"cadence"`
	Injection InjectionConfig `yaml:"injection"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the Lucy server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TelephonyConfig describes the media wire format negotiated with the
// telephony gateway.
type TelephonyConfig struct {
	// FrameMs is the duration of one outbound media frame in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// WireRate is the telephony sample rate in Hz.
	WireRate int `yaml:"wire_rate"`

	// MarkName labels the end-of-utterance marker sent after each response.
	MarkName string `yaml:"mark_name"`
}

// CadenceConfig tunes the turn-taking engine.
type CadenceConfig struct {
	// CheckIntervalMs is the minimum spacing between decision rounds.
	CheckIntervalMs int `yaml:"check_interval_ms"`

	// WindowWords caps the rolling transcript window per session.
	WindowWords int `yaml:"window_words"`

	// SnippetWords is how many trailing words each decision round sees.
	SnippetWords int `yaml:"snippet_words"`

	// DecisionTimeoutMs bounds one speak/stay-silent call.
	DecisionTimeoutMs int `yaml:"decision_timeout_ms"`

	// ResponseTimeoutMs bounds one reply-composition call.
	ResponseTimeoutMs int `yaml:"response_timeout_ms"`

	// SynthesisTimeoutMs bounds one speech-synthesis call.
	SynthesisTimeoutMs int `yaml:"synthesis_timeout_ms"`

	// Persona overrides the agent persona line in the response prompt.
	Persona string `yaml:"persona"`
}

// InjectionConfig tunes the audio-injection side channel.
type InjectionConfig struct {
	// QueueCapacity bounds each session's injection queue, in chunks.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Decision and Response are both LLM providers and may point
// at different models; the original deployment pairs a small fast decision
// model with a larger conversational one.
type ProvidersConfig struct {
	STT      ProviderEntry `yaml:"stt"`
	Decision ProviderEntry `yaml:"decision"`
	Response ProviderEntry `yaml:"response"`
	TTS      ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "whisper", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "llama3.2:1b", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`

	// Fallback optionally names a second provider of the same kind to fail
	// over to when the primary's circuit breaker opens.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultListenAddr         = ":8080"
	DefaultFrameMs            = 20
	DefaultWireRate           = 8000
	DefaultMarkName           = "utterance-done"
	DefaultCheckIntervalMs    = 750
	DefaultWindowWords        = 100
	DefaultSnippetWords       = 30
	DefaultDecisionTimeoutMs  = 3000
	DefaultResponseTimeoutMs  = 3000
	DefaultSynthesisTimeoutMs = 30000
	DefaultQueueCapacity      = 64
)

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Telephony.FrameMs == 0 {
		c.Telephony.FrameMs = DefaultFrameMs
	}
	if c.Telephony.WireRate == 0 {
		c.Telephony.WireRate = DefaultWireRate
	}
	if c.Telephony.MarkName == "" {
		c.Telephony.MarkName = DefaultMarkName
	}
	if c.Cadence.CheckIntervalMs == 0 {
		c.Cadence.CheckIntervalMs = DefaultCheckIntervalMs
	}
	if c.Cadence.WindowWords == 0 {
		c.Cadence.WindowWords = DefaultWindowWords
	}
	if c.Cadence.SnippetWords == 0 {
		c.Cadence.SnippetWords = DefaultSnippetWords
	}
	if c.Cadence.DecisionTimeoutMs == 0 {
		c.Cadence.DecisionTimeoutMs = DefaultDecisionTimeoutMs
	}
	if c.Cadence.ResponseTimeoutMs == 0 {
		c.Cadence.ResponseTimeoutMs = DefaultResponseTimeoutMs
	}
	if c.Cadence.SynthesisTimeoutMs == 0 {
		c.Cadence.SynthesisTimeoutMs = DefaultSynthesisTimeoutMs
	}
	if c.Injection.QueueCapacity == 0 {
		c.Injection.QueueCapacity = DefaultQueueCapacity
	}
}
