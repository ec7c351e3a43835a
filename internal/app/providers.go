package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/IcedCoffeeDrinker/Lucy/internal/config"
	"github.com/IcedCoffeeDrinker/Lucy/internal/resilience"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm/anyllm"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm/openai"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/stt"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/stt/whisper"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/csm"
)

// Providers holds one interface value per pipeline stage. Decision and
// Response are separate slots because the original deployment pairs a small
// fast decision model with a larger conversational one.
type Providers struct {
	STT      stt.Provider
	Decision llm.Provider
	Response llm.Provider
	TTS      tts.Provider

	closers []func() error
}

// Close releases provider resources (e.g. a loaded native whisper model).
// Safe to call on a zero value.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates all providers named in cfg. Entries with a
// fallback block are wrapped in a circuit-breaking failover group.
func BuildProviders(cfg *config.Config) (*Providers, error) {
	ps := &Providers{}

	sttProvider, err := buildSTTWithFallback(ps, cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("stt provider: %w", err)
	}
	ps.STT = sttProvider

	decision, err := buildLLMWithFallback("decision", cfg.Providers.Decision)
	if err != nil {
		return nil, fmt.Errorf("decision provider: %w", err)
	}
	ps.Decision = decision

	response, err := buildLLMWithFallback("response", cfg.Providers.Response)
	if err != nil {
		return nil, fmt.Errorf("response provider: %w", err)
	}
	ps.Response = response

	ttsProvider, err := buildTTSWithFallback(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("tts provider: %w", err)
	}
	ps.TTS = ttsProvider

	return ps, nil
}

// ─── STT ─────────────────────────────────────────────────────────────────────

func buildSTTWithFallback(ps *Providers, entry config.ProviderEntry) (stt.Provider, error) {
	primary, err := buildSTT(ps, entry)
	if err != nil {
		return nil, err
	}
	logProviderCreated("stt", entry)
	if entry.Fallback == nil {
		return primary, nil
	}

	secondary, err := buildSTT(ps, *entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	logProviderCreated("stt fallback", *entry.Fallback)

	group := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
	group.AddFallback(entry.Fallback.Name, secondary)
	return group, nil
}

func buildSTT(ps *Providers, entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whisper":
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_buffer_duration_ms"); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)

	case "whisper-native":
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		ps.closers = append(ps.closers, p.Close)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// ─── LLM ─────────────────────────────────────────────────────────────────────

func buildLLMWithFallback(kind string, entry config.ProviderEntry) (llm.Provider, error) {
	primary, err := buildLLM(entry)
	if err != nil {
		return nil, err
	}
	logProviderCreated(kind, entry)
	if entry.Fallback == nil {
		return primary, nil
	}

	secondary, err := buildLLM(*entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	logProviderCreated(kind+" fallback", *entry.Fallback)

	group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	group.AddFallback(entry.Fallback.Name, secondary)
	return group, nil
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	// "openai" gets the dedicated client; every other name goes through the
	// any-llm multiplexer.
	if entry.Name == "openai" {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

func buildTTSWithFallback(entry config.ProviderEntry) (tts.Provider, error) {
	primary, err := buildTTS(entry)
	if err != nil {
		return nil, err
	}
	logProviderCreated("tts", entry)
	if entry.Fallback == nil {
		return primary, nil
	}

	secondary, err := buildTTS(*entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	logProviderCreated("tts fallback", *entry.Fallback)

	group := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
	group.AddFallback(entry.Fallback.Name, secondary)
	return group, nil
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "csm":
		var opts []csm.Option
		if id, ok := optIntOK(entry.Options, "speaker_id"); ok {
			opts = append(opts, csm.WithSpeakerID(id))
		}
		if temp, ok := optFloatOK(entry.Options, "temperature"); ok {
			opts = append(opts, csm.WithTemperature(temp))
		}
		if k := optInt(entry.Options, "top_k"); k > 0 {
			opts = append(opts, csm.WithTopK(k))
		}
		if ms := optInt(entry.Options, "timeout_ms"); ms > 0 {
			opts = append(opts, csm.WithTimeout(time.Duration(ms)*time.Millisecond))
		}
		return csm.New(entry.BaseURL, opts...)

	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func logProviderCreated(kind string, entry config.ProviderEntry) {
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map, tolerating
// the numeric types the YAML decoder may produce. Returns 0 when absent.
func optInt(opts map[string]any, key string) int {
	v, _ := optIntOK(opts, key)
	return v
}

func optIntOK(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optFloatOK(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
