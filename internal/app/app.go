// Package app wires all Lucy subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the call
// registry, turn controller, media relay, and HTTP server; Run serves until
// the context is cancelled; Shutdown tears down provider resources in order.
//
// For testing, pass a [Providers] struct populated with mocks. When built
// from a real config, use [BuildProviders].
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IcedCoffeeDrinker/Lucy/internal/call"
	"github.com/IcedCoffeeDrinker/Lucy/internal/config"
	"github.com/IcedCoffeeDrinker/Lucy/internal/health"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/internal/relay"
	"github.com/IcedCoffeeDrinker/Lucy/internal/server"
	"github.com/IcedCoffeeDrinker/Lucy/internal/turn"
)

// App owns all subsystem lifetimes and orchestrates the Lucy call pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	registry   *call.Registry
	controller *turn.Controller
	relay      *relay.Relay
	health     *health.Handler
	server     *server.Server

	metrics *observe.Metrics
	logger  *slog.Logger

	// extraCheckers are appended to the built-in readiness checks.
	extraCheckers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger instead of slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithHealthChecker appends an extra readiness check.
func WithHealthChecker(c health.Checker) Option {
	return func(a *App) { a.extraCheckers = append(a.extraCheckers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders] (or from a test with mocks filled in).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("app: providers are required")
	}
	if providers.STT == nil || providers.Decision == nil || providers.Response == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: all four providers (stt, decision, response, tts) are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// ── 1. Call registry ─────────────────────────────────────────────────
	a.registry = call.NewRegistry()

	// ── 2. Turn controller ───────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 3. Media relay ───────────────────────────────────────────────────
	if err := a.initRelay(); err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}

	// ── 4. Health probes ─────────────────────────────────────────────────
	a.initHealth()

	// ── 5. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	a.closers = append(a.closers, providers.Close)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initController builds the decision/response services and the cadence
// controller around them.
func (a *App) initController() error {
	decision := turn.NewDecisionService(a.providers.Decision, msDuration(a.cfg.Cadence.DecisionTimeoutMs))
	response := turn.NewResponseService(a.providers.Response, msDuration(a.cfg.Cadence.ResponseTimeoutMs), a.cfg.Cadence.Persona)

	ctrl, err := turn.New(turn.Config{
		Decision:         decision,
		Response:         response,
		Synthesizer:      a.providers.TTS,
		Interval:         msDuration(a.cfg.Cadence.CheckIntervalMs),
		SnippetWords:     a.cfg.Cadence.SnippetWords,
		SynthesisTimeout: msDuration(a.cfg.Cadence.SynthesisTimeoutMs),
		WireRate:         a.cfg.Telephony.WireRate,
		Metrics:          a.metrics,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	a.controller = ctrl
	return nil
}

// initRelay builds the media relay serving the telephony websocket.
func (a *App) initRelay() error {
	r, err := relay.New(relay.Config{
		Registry:          a.registry,
		Recognizer:        a.providers.STT,
		Controller:        a.controller,
		WireRate:          a.cfg.Telephony.WireRate,
		FrameMs:           a.cfg.Telephony.FrameMs,
		MarkName:          a.cfg.Telephony.MarkName,
		WindowWords:       a.cfg.Cadence.WindowWords,
		InjectionQueueCap: a.cfg.Injection.QueueCapacity,
		Metrics:           a.metrics,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}
	a.relay = r
	return nil
}

// initHealth registers reachability checks for the HTTP-backed providers.
// In-process providers (whisper-native) have nothing to probe and get none.
func (a *App) initHealth() {
	var checkers []health.Checker
	if url := a.cfg.Providers.STT.BaseURL; url != "" {
		checkers = append(checkers, endpointChecker("stt", url))
	}
	if url := a.cfg.Providers.TTS.BaseURL; url != "" {
		checkers = append(checkers, endpointChecker("tts", url))
	}
	checkers = append(checkers, a.extraCheckers...)
	a.health = health.New(checkers...)
}

// initServer builds the HTTP front end.
func (a *App) initServer() error {
	cfg := server.Config{
		Addr:     a.cfg.Server.ListenAddr,
		Registry: a.registry,
		Relay:    a.relay,
		Health:   a.health,
		Metrics:  a.metrics,
		Logger:   a.logger,
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		cfg.TLSCertFile = tls.CertFile
		cfg.TLSKeyFile = tls.KeyFile
	}
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled, then drains the HTTP server gracefully.
// Media sockets are closed by the drain; in-flight calls tear down through
// their session lifecycle.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"wire_rate", a.cfg.Telephony.WireRate,
		"frame_ms", a.cfg.Telephony.FrameMs,
	)
	return a.server.Run(ctx)
}

// Handler exposes the HTTP route table for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down provider resources in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// msDuration converts a millisecond config value to a time.Duration.
func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// endpointChecker probes base for reachability. Any HTTP response below 500
// counts as healthy; the probe asks whether the server answers, not whether
// the specific path exists.
func endpointChecker(name, base string) health.Checker {
	return health.Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, base, nil)
			if err != nil {
				return fmt.Errorf("build probe request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("endpoint unreachable: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("endpoint returned %d", resp.StatusCode)
			}
			return nil
		},
	}
}
