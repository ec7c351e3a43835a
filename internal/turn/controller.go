package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IcedCoffeeDrinker/Lucy/internal/call"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
)

// Cadence and synthesis defaults.
const (
	// DefaultInterval is the minimum spacing between decision rounds.
	DefaultInterval = 750 * time.Millisecond

	// DefaultSnippetWords is how many trailing transcript words a round sees.
	DefaultSnippetWords = 30

	// DefaultSynthesisTimeout bounds one synthesis call. Synthesis is far
	// slower than the LLM rounds, so it gets its own budget.
	DefaultSynthesisTimeout = 30 * time.Second

	// DefaultWireRate is the telephony sample rate synthesized audio is
	// resampled to before queueing.
	DefaultWireRate = 8000
)

// Config assembles a Controller. Decision, Response, and Synthesizer are
// required; everything else falls back to the defaults above.
type Config struct {
	Decision    *DecisionService
	Response    *ResponseService
	Synthesizer tts.Provider

	// Interval is the minimum spacing between decision rounds.
	Interval time.Duration

	// SnippetWords is how many trailing transcript words each round sees.
	SnippetWords int

	// SynthesisTimeout bounds one synthesis call.
	SynthesisTimeout time.Duration

	// WireRate is the telephony sample rate in Hz.
	WireRate int

	// Metrics receives per-round instrumentation. Nil means the package
	// default instance.
	Metrics *observe.Metrics

	// Logger receives round lifecycle logs. Nil means slog.Default.
	Logger *slog.Logger
}

// Controller runs the turn-taking cadence for sessions: every tick it checks
// whether a decision round is due, and when one fires it drives the
// decide → compose → synthesize pipeline and hands the finished audio to the
// session's speech queue. One Controller serves all sessions; each Run call
// owns one session's cadence. Safe for concurrent use.
type Controller struct {
	decision    *DecisionService
	response    *ResponseService
	synthesizer tts.Provider

	interval     time.Duration
	snippetWords int
	synthTimeout time.Duration
	wireRate     int

	metrics *observe.Metrics
	logger  *slog.Logger
}

// New validates cfg and builds a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Decision == nil {
		return nil, fmt.Errorf("turn: decision service is required")
	}
	if cfg.Response == nil {
		return nil, fmt.Errorf("turn: response service is required")
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("turn: synthesizer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SnippetWords <= 0 {
		cfg.SnippetWords = DefaultSnippetWords
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if cfg.WireRate <= 0 {
		cfg.WireRate = DefaultWireRate
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		decision:     cfg.Decision,
		response:     cfg.Response,
		synthesizer:  cfg.Synthesizer,
		interval:     cfg.Interval,
		snippetWords: cfg.SnippetWords,
		synthTimeout: cfg.SynthesisTimeout,
		wireRate:     cfg.WireRate,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}, nil
}

// Run drives the cadence for one session until ctx is cancelled or the
// session closes. The tick is a fraction of the interval so a round fires
// soon after it becomes due; BeginDeciding enforces the actual spacing, so
// the poll rate only affects firing latency, never double-fires.
func (c *Controller) Run(ctx context.Context, s *call.Session) {
	poll := c.interval / 3
	if poll < 50*time.Millisecond {
		poll = 50 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	log := c.logger.With(slog.String("stream_sid", s.ID))
	log.Debug("cadence started", slog.Duration("interval", c.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-ticker.C:
			if s.BeginDeciding(c.interval) {
				c.runRound(ctx, s, log)
			}
		}
	}
}

// runRound executes one decision round. The session is in Deciding on entry;
// on every exit path it has been moved to Listening or Speaking (or the
// session closed underneath us, which EndDeciding tolerates).
func (c *Controller) runRound(ctx context.Context, s *call.Session, log *slog.Logger) {
	snippet := s.Window.Snippet(c.snippetWords)

	start := time.Now()
	speak, err := c.decision.ShouldSpeak(ctx, snippet)
	if err != nil {
		c.metrics.RecordDecision(ctx, time.Since(start), "error")
		c.metrics.RecordServiceError(ctx, "decision")
		log.Warn("decision round failed", slog.Any("error", err))
		s.EndDeciding(false)
		return
	}
	if !speak {
		c.metrics.RecordDecision(ctx, time.Since(start), "silent")
		log.Debug("decision: stay silent")
		s.EndDeciding(false)
		return
	}
	c.metrics.RecordDecision(ctx, time.Since(start), "speak")

	start = time.Now()
	text, err := c.response.Compose(ctx, snippet)
	if err != nil {
		c.metrics.RecordResponse(ctx, time.Since(start), "error")
		c.metrics.RecordServiceError(ctx, "response")
		log.Warn("response round failed", slog.Any("error", err))
		s.EndDeciding(false)
		return
	}
	c.metrics.RecordResponse(ctx, time.Since(start), "ok")
	log.Info("speaking", slog.Int("reply_chars", len(text)))

	if !s.EndDeciding(true) {
		return
	}

	pcm, err := c.synthesize(ctx, text, snippet)
	if err != nil {
		c.metrics.RecordServiceError(ctx, "synthesis")
		log.Warn("synthesis failed", slog.Any("error", err))
		s.AbortUtterance()
		return
	}

	if err := s.EnqueueSpeech(call.Utterance{PCM: pcm}); err != nil {
		log.Debug("session closed before speech could be queued")
	}
}

// synthesize renders the reply and resamples it to the wire rate. The
// caller's snippet rides along as conversational context so the voice model
// hears what it is answering.
func (c *Controller) synthesize(ctx context.Context, text, snippet string) ([]int16, error) {
	ctx, cancel := context.WithTimeout(ctx, c.synthTimeout)
	defer cancel()

	start := time.Now()
	clip, err := c.synthesizer.Synthesize(ctx, tts.Request{
		Text: text,
		Context: []tts.Turn{
			{Speaker: 0, Text: snippet},
		},
	})
	if err != nil {
		c.metrics.RecordSynthesis(ctx, time.Since(start), "error")
		return nil, fmt.Errorf("turn: synthesize: %w", err)
	}
	c.metrics.RecordSynthesis(ctx, time.Since(start), "ok")

	pcm, err := audio.Resample(clip.PCM, clip.SampleRate, c.wireRate)
	if err != nil {
		return nil, fmt.Errorf("turn: resample %d->%d: %w", clip.SampleRate, c.wireRate, err)
	}
	return pcm, nil
}
