package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper", "whisper-native"},
	"decision": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"response": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":      {"csm"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Telephony — the frame duration must divide evenly into wire samples.
	if cfg.Telephony.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("telephony.frame_ms %d must be positive", cfg.Telephony.FrameMs))
	}
	if cfg.Telephony.WireRate < 0 {
		errs = append(errs, fmt.Errorf("telephony.wire_rate %d must be positive", cfg.Telephony.WireRate))
	}
	if cfg.Telephony.FrameMs > 0 && cfg.Telephony.WireRate > 0 &&
		cfg.Telephony.WireRate*cfg.Telephony.FrameMs%1000 != 0 {
		errs = append(errs, fmt.Errorf("telephony: frame_ms %d at wire_rate %d does not yield a whole sample count",
			cfg.Telephony.FrameMs, cfg.Telephony.WireRate))
	}

	// Cadence
	if cfg.Cadence.CheckIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("cadence.check_interval_ms %d must be positive", cfg.Cadence.CheckIntervalMs))
	}
	if cfg.Cadence.WindowWords < 0 {
		errs = append(errs, fmt.Errorf("cadence.window_words %d must be positive", cfg.Cadence.WindowWords))
	}
	if cfg.Cadence.SnippetWords < 0 {
		errs = append(errs, fmt.Errorf("cadence.snippet_words %d must be positive", cfg.Cadence.SnippetWords))
	}
	if cfg.Cadence.SnippetWords > 0 && cfg.Cadence.WindowWords > 0 &&
		cfg.Cadence.SnippetWords > cfg.Cadence.WindowWords {
		errs = append(errs, fmt.Errorf("cadence.snippet_words %d exceeds window_words %d",
			cfg.Cadence.SnippetWords, cfg.Cadence.WindowWords))
	}

	// Injection
	if cfg.Injection.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("injection.queue_capacity %d must be positive", cfg.Injection.QueueCapacity))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("decision", cfg.Providers.Decision.Name)
	validateProviderName("response", cfg.Providers.Response.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Required providers: the pipeline cannot run a call without all four
	// stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.Decision.Name == "" {
		errs = append(errs, errors.New("providers.decision.name is required"))
	}
	if cfg.Providers.Response.Name == "" {
		errs = append(errs, errors.New("providers.response.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// Fallback entries must name a provider themselves.
	for kind, entry := range map[string]ProviderEntry{
		"stt":      cfg.Providers.STT,
		"decision": cfg.Providers.Decision,
		"response": cfg.Providers.Response,
		"tts":      cfg.Providers.TTS,
	} {
		if entry.Fallback == nil {
			continue
		}
		if entry.Fallback.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback.name is required when a fallback is set", kind))
			continue
		}
		validateProviderName(kind, entry.Fallback.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
