// Package call holds per-call session state and the registry that tracks the
// set of active calls.
//
// A Session is one telephone call's pipeline state: the turn-taking state
// machine, the rolling transcript window, the outbound sequence counter, and
// the bounded injection queue. Sessions are created when the telephony
// gateway announces a media stream and destroyed when the stream stops or
// the socket errors. All cross-goroutine access goes through the methods
// here; sessions share no state with each other.
package call

import (
	"errors"
	"sync"
	"time"
)

// Sentinel errors surfaced to injection and lookup callers.
var (
	// ErrSessionNotFound is returned when no active session matches the id.
	ErrSessionNotFound = errors.New("call: session not found")

	// ErrQueueFull is returned when a session's injection queue is at
	// capacity. Queued items are untouched; the caller may retry.
	ErrQueueFull = errors.New("call: injection queue full")

	// ErrSessionClosed is returned when an operation targets a session that
	// has already ended.
	ErrSessionClosed = errors.New("call: session closed")
)

// DefaultInjectionQueueCap bounds the injection queue when no explicit
// capacity is configured.
const DefaultInjectionQueueCap = 64

// State is a session's position in the turn-taking lifecycle.
type State int

const (
	// StateConnecting is the initial state before the stream start event.
	StateConnecting State = iota

	// StateListening accepts inbound audio and accumulates transcript.
	StateListening

	// StateDeciding means the cadence fired and the decision/response round
	// is in flight. Inbound audio is still accepted and buffered.
	StateDeciding

	// StateSpeaking means synthesized frames are being written outbound.
	// Inbound audio is still accepted but no new decision round starts.
	StateSpeaking

	// StateClosing means teardown has begun.
	StateClosing

	// StateClosed is terminal. No further frames are read or written.
	StateClosed
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDeciding:
		return "deciding"
	case StateSpeaking:
		return "speaking"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Utterance is one burst of wire-rate PCM awaiting transmission, either a
// synthesized reply or an injected chunk.
type Utterance struct {
	// PCM holds signed 16-bit mono samples at the wire rate.
	PCM []int16

	// Injected marks audio from the injection side channel. Injected audio
	// is transmitted as-is and does not clear the transcript window.
	Injected bool
}

// Session is one active call's pipeline state. Create with NewSession,
// register it in a Registry, and call Close exactly once at teardown
// (Close is idempotent).
type Session struct {
	// ID is the opaque stream identifier assigned by the gateway.
	ID string

	// CallSID is the gateway's call identifier, kept for logging.
	CallSID string

	// Window is the session's rolling transcript of caller words.
	Window *Window

	mu           sync.Mutex
	state        State
	lastDecision time.Time
	sequence     int64

	injectCh chan []int16
	speechCh chan Utterance

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a Session in StateConnecting with an empty transcript
// window and an injection queue of injectCap chunks (DefaultInjectionQueueCap
// when zero or less). The outbound sequence starts at 1.
func NewSession(id, callSID string, window *Window, injectCap int) *Session {
	if window == nil {
		window = NewWindow(0)
	}
	if injectCap <= 0 {
		injectCap = DefaultInjectionQueueCap
	}
	return &Session{
		ID:       id,
		CallSID:  callSID,
		Window:   window,
		state:    StateConnecting,
		sequence: 1,
		injectCh: make(chan []int16, injectCap),
		speechCh: make(chan Utterance, 4),
		done:     make(chan struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate moves the session from Connecting to Listening once the stream
// start event has been processed. The cadence clock starts now.
func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateListening
		s.lastDecision = time.Now()
	}
}

// BeginDeciding atomically checks the cadence condition and, when met,
// enters Deciding. It returns true only if the session is Listening, the
// transcript window is non-empty, and at least interval has elapsed since
// the last decision. The decision clock is reset immediately on entry so a
// decision round in flight can never re-trigger.
//
// An empty window never changes the decision clock: residual silence must
// not delay the first decision after the caller finally speaks.
func (s *Session) BeginDeciding(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return false
	}
	if s.Window.Len() == 0 {
		return false
	}
	if time.Since(s.lastDecision) < interval {
		return false
	}
	s.state = StateDeciding
	s.lastDecision = time.Now()
	return true
}

// EndDeciding leaves the Deciding state. When speak is true the session
// enters Speaking; otherwise it returns to Listening with the transcript
// window untouched. Returns false if the session was not Deciding (e.g.,
// closed mid-round).
func (s *Session) EndDeciding(speak bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDeciding {
		return false
	}
	if speak {
		s.state = StateSpeaking
	} else {
		s.state = StateListening
	}
	return true
}

// CompleteUtterance finishes a spoken response after the completion marker
// has been written: the transcript window is cleared in full and the decision
// clock resets so stale residual words cannot trigger an immediate re-fire.
func (s *Session) CompleteUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSpeaking {
		return
	}
	s.Window.Clear()
	s.lastDecision = time.Now()
	s.state = StateListening
}

// AbortUtterance returns a Speaking session to Listening without clearing
// the transcript window. Used when synthesis fails or is cancelled before
// any frame was written; the un-answered words stay eligible for the next
// decision round.
func (s *Session) AbortUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSpeaking {
		s.state = StateListening
	}
}

// LastDecision returns the time of the most recent cadence firing.
func (s *Session) LastDecision() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDecision
}

// Sequence returns the next outbound sequence number to use.
func (s *Session) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// AdvanceSequence records the next outbound sequence number after a burst.
// The sequence only moves forward; a smaller value is ignored.
func (s *Session) AdvanceSequence(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.sequence {
		s.sequence = next
	}
}

// Inject enqueues an externally supplied PCM chunk for transmission,
// bypassing the decision/response flow. Returns ErrQueueFull when the queue
// is at capacity (queued items remain untouched) and ErrSessionClosed after
// teardown.
func (s *Session) Inject(pcm []int16) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.injectCh <- pcm:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Injections exposes the injection queue to the relay writer.
func (s *Session) Injections() <-chan []int16 {
	return s.injectCh
}

// EnqueueSpeech hands a synthesized utterance to the relay writer. Returns
// ErrSessionClosed if the session ended before the utterance could be queued;
// the caller then discards the audio.
func (s *Session) EnqueueSpeech(u Utterance) error {
	select {
	case s.speechCh <- u:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Speech exposes the synthesized-utterance queue to the relay writer.
func (s *Session) Speech() <-chan Utterance {
	return s.speechCh
}

// BeginClose moves the session to Closing so loops can drain. Safe to call
// from any state.
func (s *Session) BeginClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateClosing
	}
}

// Close transitions the session to the terminal Closed state and wakes every
// goroutine blocked on the session. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
