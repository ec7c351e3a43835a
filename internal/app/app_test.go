package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/IcedCoffeeDrinker/Lucy/internal/config"
	"github.com/IcedCoffeeDrinker/Lucy/internal/health"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/internal/resilience"
	llmmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm/mock"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm/openai"
	sttmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/stt/mock"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/stt/whisper"
	ttsmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/mock"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/csm"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Providers.STT.Name = "whisper"
	cfg.Providers.Decision.Name = "ollama"
	cfg.Providers.Response.Name = "ollama"
	cfg.Providers.TTS.Name = "csm"
	cfg.ApplyDefaults()
	return cfg
}

func testProviders() *Providers {
	return &Providers{
		STT:      &sttmock.Provider{},
		Decision: &llmmock.Provider{},
		Response: &llmmock.Provider{},
		TTS:      &ttsmock.Provider{},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(cfg, testProviders(), WithMetrics(metrics), WithLogger(logger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_ServesExpectedRoutes(t *testing.T) {
	a := newTestApp(t, testConfig())

	cases := []struct {
		method, path, body string
		wantStatus         int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/inject/no-such-call", `{"payload":"AAA="}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		var body io.Reader
		if tc.body != "" {
			body = strings.NewReader(tc.body)
		}
		req := httptest.NewRequest(tc.method, tc.path, body)
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, rec.Code, tc.wantStatus)
		}
	}
}

func TestNew_RequiresAllProviders(t *testing.T) {
	cfg := testConfig()

	if _, err := New(cfg, nil); err == nil {
		t.Error("New accepted nil providers")
	}

	ps := testProviders()
	ps.Response = nil
	if _, err := New(cfg, ps); err == nil {
		t.Error("New accepted providers with a nil slot")
	}

	if _, err := New(nil, testProviders()); err == nil {
		t.Error("New accepted a nil config")
	}
}

func TestNew_RegistersEndpointCheckers(t *testing.T) {
	probed := make(chan string, 2)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed <- r.Method
	}))
	defer backend.Close()

	cfg := testConfig()
	cfg.Providers.STT.BaseURL = backend.URL
	a := newTestApp(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	select {
	case method := <-probed:
		if method != http.MethodHead {
			t.Errorf("probe method = %q, want HEAD", method)
		}
	default:
		t.Error("readiness probe never reached the provider endpoint")
	}
	if !strings.Contains(rec.Body.String(), `"stt":"ok"`) {
		t.Errorf("readyz body %s does not report the stt check", rec.Body.String())
	}
}

func TestNew_ExtraHealthCheckerFailsReadyz(t *testing.T) {
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(testConfig(), testProviders(),
		WithMetrics(metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHealthChecker(health.Checker{
			Name:  "gateway",
			Check: func(context.Context) error { return io.ErrUnexpectedEOF },
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", rec.Code)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestBuildProviders_ConstructsConfiguredStack(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.STT.BaseURL = "http://localhost:9000"
	cfg.Providers.STT.Options = map[string]any{"language": "en", "silence_threshold_ms": 400}
	cfg.Providers.Decision.Model = "llama3.2:1b"
	cfg.Providers.Response.Model = "llama3.1:8b"
	cfg.Providers.TTS.BaseURL = "http://localhost:8000"
	cfg.Providers.TTS.Options = map[string]any{"speaker_id": 1, "temperature": 0.8}

	ps, err := BuildProviders(cfg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	defer ps.Close()

	if _, ok := ps.STT.(*whisper.Provider); !ok {
		t.Errorf("STT provider is %T, want *whisper.Provider", ps.STT)
	}
	if _, ok := ps.TTS.(*csm.Provider); !ok {
		t.Errorf("TTS provider is %T, want *csm.Provider", ps.TTS)
	}
	if ps.Decision == nil || ps.Response == nil {
		t.Error("LLM provider slots were not populated")
	}
}

func TestBuildProviders_WrapsFallbackEntries(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.STT.BaseURL = "http://localhost:9000"
	cfg.Providers.TTS.BaseURL = "http://localhost:8000"
	cfg.Providers.Response.Model = "llama3.1:8b"
	cfg.Providers.Response.Fallback = &config.ProviderEntry{
		Name:   "openai",
		APIKey: "sk-test",
		Model:  "gpt-4o-mini",
	}

	ps, err := BuildProviders(cfg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	defer ps.Close()

	if _, ok := ps.Response.(*resilience.LLMFallback); !ok {
		t.Errorf("Response provider is %T, want *resilience.LLMFallback", ps.Response)
	}
	if _, ok := ps.Decision.(*resilience.LLMFallback); ok {
		t.Error("Decision provider was wrapped although no fallback is configured")
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown stt name", func(c *config.Config) {
			c.Providers.STT.Name = "deepgram"
		}},
		{"whisper without base url", func(c *config.Config) {
			c.Providers.STT.BaseURL = ""
		}},
		{"csm without base url", func(c *config.Config) {
			c.Providers.TTS.BaseURL = ""
		}},
		{"openai without api key", func(c *config.Config) {
			c.Providers.Decision = config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
		}},
		{"broken fallback", func(c *config.Config) {
			c.Providers.TTS.Fallback = &config.ProviderEntry{Name: "csm"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Providers.STT.BaseURL = "http://localhost:9000"
			cfg.Providers.TTS.BaseURL = "http://localhost:8000"
			tc.mutate(cfg)
			if _, err := BuildProviders(cfg); err == nil {
				t.Error("BuildProviders accepted a broken config")
			}
		})
	}
}

func TestBuildLLM_OpenAIUsesDedicatedClient(t *testing.T) {
	p, err := buildLLM(config.ProviderEntry{
		Name:   "openai",
		APIKey: "sk-test",
		Model:  "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("buildLLM: %v", err)
	}
	if _, ok := p.(*openai.Provider); !ok {
		t.Errorf("provider is %T, want *openai.Provider", p)
	}
}

func TestProvidersClose_ZeroValue(t *testing.T) {
	var ps Providers
	if err := ps.Close(); err != nil {
		t.Fatalf("Close on zero value: %v", err)
	}
}
