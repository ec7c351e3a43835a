// Package server exposes Lucy's HTTP surface: the telephony media websocket,
// the audio-injection side channel, Prometheus metrics, and health probes.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IcedCoffeeDrinker/Lucy/internal/call"
	"github.com/IcedCoffeeDrinker/Lucy/internal/health"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/internal/relay"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
)

// shutdownTimeout bounds the graceful drain when the server stops.
const shutdownTimeout = 10 * time.Second

// Config assembles a Server. Registry and Relay are required.
type Config struct {
	// Addr is the TCP listen address (e.g. ":8080").
	Addr string

	// Registry resolves injection targets.
	Registry *call.Registry

	// Relay serves accepted media sockets.
	Relay *relay.Relay

	// Health serves the liveness and readiness probes. Nil disables them.
	Health *health.Handler

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Metrics receives request instrumentation. Nil means the package
	// default instance.
	Metrics *observe.Metrics

	// Logger receives server lifecycle logs. Nil means slog.Default.
	Logger *slog.Logger
}

// Server is Lucy's HTTP front end.
type Server struct {
	addr     string
	registry *call.Registry
	relay    *relay.Relay
	httpSrv  *http.Server
	certFile string
	keyFile  string
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// New validates cfg, builds the route table, and returns a Server ready to
// Run.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if cfg.Relay == nil {
		return nil, fmt.Errorf("server: relay is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:     cfg.Addr,
		registry: cfg.Registry,
		relay:    cfg.Relay,
		certFile: cfg.TLSCertFile,
		keyFile:  cfg.TLSKeyFile,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)

	instrumented := observe.Middleware(cfg.Metrics)
	mux.Handle("POST /inject/{sid}", instrumented(http.HandlerFunc(s.handleInject)))
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s, nil
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then drains gracefully. The media
// sockets are closed by the drain; in-flight calls tear down through their
// relay loops.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server listening", slog.String("addr", s.addr), slog.Bool("tls", s.certFile != ""))
		var err error
		if s.certFile != "" && s.keyFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleStream upgrades the connection and hands it to the relay. The
// telephony gateway is not a browser, so origin checking is disabled.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	if err := s.relay.Serve(r.Context(), conn); err != nil {
		s.logger.Warn("media stream failed", slog.Any("error", err))
		conn.Close(websocket.StatusInternalError, "stream failed")
	}
}

// injectRequest is the wire shape of an injection push. Payload carries
// base64-encoded little-endian PCM16 samples at the wire rate.
type injectRequest struct {
	Payload string `json:"payload"`
}

// injectResponse acknowledges an accepted push.
type injectResponse struct {
	Status  string `json:"status"`
	Samples int    `json:"samples"`
}

// errorResponse is the JSON error body for rejected pushes.
type errorResponse struct {
	Error string `json:"error"`
}

// handleInject queues externally supplied audio for an active call.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Payload == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payload is required"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payload is not valid base64"})
		return
	}
	if len(raw) == 0 || len(raw)%2 != 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payload must be non-empty little-endian 16-bit samples"})
		return
	}

	pcm := audio.PCM16Samples(raw)
	switch err := s.registry.Inject(sid, pcm); {
	case err == nil:
		s.logger.Debug("audio injected", slog.String("stream_sid", sid), slog.Int("samples", len(pcm)))
		writeJSON(w, http.StatusAccepted, injectResponse{Status: "accepted", Samples: len(pcm)})
	case errors.Is(err, call.ErrSessionNotFound):
		s.metrics.RecordInjectionRejection(r.Context(), "not_found")
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrQueueFull):
		s.metrics.RecordInjectionRejection(r.Context(), "queue_full")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrSessionClosed):
		s.metrics.RecordInjectionRejection(r.Context(), "closed")
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
