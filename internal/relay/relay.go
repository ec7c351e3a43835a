// Package relay bridges one telephony media socket to the call pipeline: it
// reads inbound μ-law frames into the speech recognizer, pumps recognized
// words into the session transcript, and writes synthesized and injected
// audio back out as sequenced wire frames.
//
// Each connection gets one Serve call running four loops: the socket reader,
// the transcript pump, the cadence controller, and the frame writer. The
// writer is the only goroutine that touches the outbound side of the socket
// or the session's sequence counter, so outbound ordering needs no further
// locking.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/IcedCoffeeDrinker/Lucy/internal/call"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/internal/turn"
	"github.com/IcedCoffeeDrinker/Lucy/internal/twilio"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/stt"
)

// Wire defaults.
const (
	// DefaultWireRate is the telephony sample rate in Hz.
	DefaultWireRate = 8000

	// DefaultFrameMs is the duration of one outbound frame.
	DefaultFrameMs = 20

	// DefaultMarkName labels the end-of-utterance marker.
	DefaultMarkName = "utterance-done"

	// startTimeout bounds how long a fresh connection may dawdle before
	// announcing its stream.
	startTimeout = 30 * time.Second
)

// Conn is the subset of [websocket.Conn] the relay uses. Tests substitute a
// scripted fake.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
}

// Config assembles a Relay. Registry, Recognizer, and Controller are
// required; wire parameters fall back to the defaults above.
type Config struct {
	Registry   *call.Registry
	Recognizer stt.Provider
	Controller *turn.Controller

	// WireRate is the telephony sample rate in Hz.
	WireRate int

	// FrameMs is the outbound frame duration in milliseconds.
	FrameMs int

	// MarkName labels the end-of-utterance marker on the wire.
	MarkName string

	// WindowWords caps the per-session transcript window.
	WindowWords int

	// InjectionQueueCap bounds each session's injection queue.
	InjectionQueueCap int

	// Metrics receives per-frame instrumentation. Nil means the package
	// default instance.
	Metrics *observe.Metrics

	// Logger receives connection lifecycle logs. Nil means slog.Default.
	Logger *slog.Logger
}

// Relay serves media socket connections. One Relay serves all connections;
// safe for concurrent use.
type Relay struct {
	registry   *call.Registry
	recognizer stt.Provider
	controller *turn.Controller

	chunker   audio.Chunker
	wireRate  int
	markName  string
	window    int
	injectCap int

	metrics *observe.Metrics
	logger  *slog.Logger
}

// New validates cfg and builds a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("relay: registry is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("relay: recognizer is required")
	}
	if cfg.Controller == nil {
		return nil, fmt.Errorf("relay: controller is required")
	}
	if cfg.WireRate <= 0 {
		cfg.WireRate = DefaultWireRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = DefaultFrameMs
	}
	if cfg.MarkName == "" {
		cfg.MarkName = DefaultMarkName
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		registry:   cfg.Registry,
		recognizer: cfg.Recognizer,
		controller: cfg.Controller,
		chunker:    audio.NewChunker(cfg.WireRate, cfg.FrameMs),
		wireRate:   cfg.WireRate,
		markName:   cfg.MarkName,
		window:     cfg.WindowWords,
		injectCap:  cfg.InjectionQueueCap,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Serve runs one connection's media session to completion. It returns nil on
// an orderly stop event and the underlying error when the socket or the
// recognizer fails. The session is always removed from the registry and
// closed before Serve returns.
func (r *Relay) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start, err := r.awaitStart(ctx, conn)
	if err != nil {
		return err
	}
	streamSID := start.StreamSID
	log := r.logger.With(slog.String("stream_sid", streamSID), slog.String("call_sid", start.CallSID))

	session := call.NewSession(streamSID, start.CallSID, call.NewWindow(r.window), r.injectCap)
	if err := r.registry.Add(session); err != nil {
		return fmt.Errorf("relay: register stream %s: %w", streamSID, err)
	}
	defer r.registry.Remove(streamSID)
	defer session.Close()

	r.metrics.SessionOpened(ctx)
	defer r.metrics.SessionClosed(ctx)

	handle, err := r.recognizer.StartStream(ctx, stt.StreamConfig{
		SampleRate: r.wireRate,
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("relay: start recognition for stream %s: %w", streamSID, err)
	}
	defer handle.Close()

	session.Activate()
	log.Info("media stream started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.readLoop(gctx, conn, session, handle, log) })
	g.Go(func() error { return r.pumpTranscripts(gctx, session, handle, log) })
	g.Go(func() error { return r.writeLoop(gctx, conn, session) })
	g.Go(func() error {
		r.controller.Run(gctx, session)
		return nil
	})

	err = g.Wait()
	session.Close()
	log.Info("media stream ended", slog.Any("error", err))
	return err
}

// awaitStart consumes events until the stream announces itself. Connected
// events are skipped; malformed messages are counted and skipped.
func (r *Relay) awaitStart(ctx context.Context, conn Conn) (*twilio.StartPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("relay: awaiting stream start: %w", err)
		}
		ev, err := twilio.ParseEvent(data)
		if err != nil {
			r.metrics.MalformedEvents.Add(ctx, 1)
			r.logger.Debug("skipping malformed wire message", slog.Any("error", err))
			continue
		}
		switch ev.Type {
		case twilio.EventConnected:
			continue
		case twilio.EventStart:
			if ev.Start == nil || ev.StreamID() == "" {
				r.metrics.MalformedEvents.Add(ctx, 1)
				continue
			}
			start := *ev.Start
			if start.StreamSID == "" {
				start.StreamSID = ev.StreamID()
			}
			return &start, nil
		case twilio.EventStop:
			return nil, fmt.Errorf("relay: stream stopped before it started")
		default:
			continue
		}
	}
}

// readLoop forwards inbound audio to the recognizer until the stream stops
// or the socket errors. A stop event closes the session so the sibling loops
// drain; a malformed message is counted and skipped, keeping the call alive.
func (r *Relay) readLoop(ctx context.Context, conn Conn, s *call.Session, handle stt.SessionHandle, log *slog.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.Done():
				return nil
			default:
			}
			s.Close()
			return fmt.Errorf("relay: read stream %s: %w", s.ID, err)
		}

		ev, err := twilio.ParseEvent(data)
		if err != nil {
			r.metrics.MalformedEvents.Add(ctx, 1)
			log.Debug("skipping malformed wire message", slog.Any("error", err))
			continue
		}

		switch ev.Type {
		case twilio.EventMedia:
			payload, err := ev.AudioPayload()
			if err != nil {
				r.metrics.MalformedEvents.Add(ctx, 1)
				log.Debug("skipping undecodable media payload", slog.Any("error", err))
				continue
			}
			r.metrics.FramesIn.Add(ctx, 1)
			pcm := audio.DecodeMuLaw(payload)
			if err := handle.SendAudio(audio.PCM16Bytes(pcm)); err != nil {
				r.metrics.RecordServiceError(ctx, "stt")
				s.Close()
				return fmt.Errorf("relay: forward audio for stream %s: %w", s.ID, err)
			}
		case twilio.EventStop:
			log.Info("stop event received")
			s.BeginClose()
			s.Close()
			return nil
		case twilio.EventMark:
			// Playback acknowledgement; nothing to do.
		default:
			// connected or unknown events mid-call are ignored.
		}
	}
}

// pumpTranscripts moves recognized words into the session transcript.
// Partials are counted for diagnostics only; finals feed the window the
// cadence engine reads.
func (r *Relay) pumpTranscripts(ctx context.Context, s *call.Session, handle stt.SessionHandle, log *slog.Logger) error {
	partials, finals := handle.Partials(), handle.Finals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				if partials == nil {
					return nil
				}
				continue
			}
			s.Window.Append(tr.Text)
			log.Debug("transcript", slog.String("text", tr.Text), slog.Float64("confidence", tr.Confidence))
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				if finals == nil {
					return nil
				}
				continue
			}
			r.metrics.PartialTranscripts.Add(ctx, 1)
			log.Debug("partial transcript", slog.String("text", tr.Text))
		}
	}
}

// writeLoop is the single owner of the outbound socket and the session's
// sequence counter. Synthesized replies clear the transcript when their mark
// goes out; injected audio is transmitted as-is and clears nothing.
func (r *Relay) writeLoop(ctx context.Context, conn Conn, s *call.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case u := <-s.Speech():
			if err := r.transmit(ctx, conn, s, u.PCM); err != nil {
				s.Close()
				return err
			}
			s.CompleteUtterance()
			r.metrics.RecordUtterance(ctx, "reply")
		case pcm := <-s.Injections():
			if err := r.transmit(ctx, conn, s, pcm); err != nil {
				s.Close()
				return err
			}
			r.metrics.RecordUtterance(ctx, "injected")
		}
	}
}

// transmit chunks one PCM burst into wire frames, writes them in order, and
// advances the session sequence past the burst.
func (r *Relay) transmit(ctx context.Context, conn Conn, s *call.Session, pcm []int16) error {
	frames, next := r.chunker.Chunk(pcm, s.Sequence())
	for _, f := range frames {
		data, err := twilio.MarshalFrame(s.ID, r.markName, f)
		if err != nil {
			return fmt.Errorf("relay: marshal frame %d for stream %s: %w", f.Seq, s.ID, err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return fmt.Errorf("relay: write frame %d for stream %s: %w", f.Seq, s.ID, err)
		}
		if !f.Mark {
			r.metrics.FramesOut.Add(ctx, 1)
		}
	}
	s.AdvanceSequence(next)
	return nil
}
