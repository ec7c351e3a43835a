package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/IcedCoffeeDrinker/Lucy/internal/call"
	"github.com/IcedCoffeeDrinker/Lucy/internal/observe"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm"
	llmmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm/mock"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
	ttsmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/mock"
)

// testController builds a Controller wired to the given mocks with no-op
// metrics so tests never touch the global meter provider.
func testController(t *testing.T, dec, resp llm.Provider, synth tts.Provider) *Controller {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c, err := New(Config{
		Decision:    NewDecisionService(dec, 0),
		Response:    NewResponseService(resp, 0, ""),
		Synthesizer: synth,
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// decidingSession returns an active session with transcript in the window,
// already moved into Deciding so runRound can be driven directly.
func decidingSession(t *testing.T, words string) *call.Session {
	t.Helper()
	s := call.NewSession("MZtest", "CAtest", nil, 0)
	s.Activate()
	s.Window.Append(words)
	if !s.BeginDeciding(0) {
		t.Fatal("BeginDeciding refused on a listening session with words")
	}
	return s
}

func TestRunRound_SilentDecisionKeepsWindow(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": false}`}}}
	resp := &llmmock.Provider{}
	synth := &ttsmock.Provider{}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "just thinking out loud here")
	c.runRound(context.Background(), s, c.logger)

	if got := s.State(); got != call.StateListening {
		t.Errorf("state after silent decision = %v, want listening", got)
	}
	if s.Window.Len() == 0 {
		t.Error("transcript window was cleared by a silent decision")
	}
	if resp.CompleteCallCount() != 0 {
		t.Error("response service was called despite a silent decision")
	}
	if synth.SynthesizeCallCount() != 0 {
		t.Error("synthesizer was called despite a silent decision")
	}
}

func TestRunRound_SpeakQueuesResampledAudio(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": true}`}}}
	resp := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"text": "Happy to help."}`}}}
	synth := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: make([]int16, 240), SampleRate: 24000},
	}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "can you help me with my account")
	c.runRound(context.Background(), s, c.logger)

	if got := s.State(); got != call.StateSpeaking {
		t.Fatalf("state after speak round = %v, want speaking", got)
	}

	select {
	case u := <-s.Speech():
		if u.Injected {
			t.Error("synthesized utterance was flagged as injected")
		}
		// 240 samples at 24 kHz resample to 80 at the 8 kHz wire rate.
		if len(u.PCM) != 80 {
			t.Errorf("queued PCM length = %d, want 80", len(u.PCM))
		}
	default:
		t.Fatal("no utterance queued after a speak round")
	}

	// The window is cleared by the relay writer at mark time, not here.
	if s.Window.Len() == 0 {
		t.Error("transcript window cleared before the utterance finished")
	}
}

func TestRunRound_SynthesisContextCarriesCallerWords(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": true}`}}}
	resp := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"text": "Of course."}`}}}
	synth := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: make([]int16, 80), SampleRate: 8000},
	}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "what are your opening hours")
	c.runRound(context.Background(), s, c.logger)

	if synth.SynthesizeCallCount() != 1 {
		t.Fatalf("Synthesize calls = %d, want 1", synth.SynthesizeCallCount())
	}
	req := synth.SynthesizeCalls[0].Req
	if req.Text != "Of course." {
		t.Errorf("Synthesize text = %q, want %q", req.Text, "Of course.")
	}
	if len(req.Context) != 1 || req.Context[0].Speaker != 0 {
		t.Fatalf("Synthesize context = %+v, want one caller turn", req.Context)
	}
	if req.Context[0].Text != "what are your opening hours" {
		t.Errorf("context text = %q, want the caller snippet", req.Context[0].Text)
	}
}

func TestRunRound_DecisionErrorReturnsToListening(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{CompleteErr: errors.New("decision model down")}
	resp := &llmmock.Provider{}
	synth := &ttsmock.Provider{}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "hello hello")
	c.runRound(context.Background(), s, c.logger)

	if got := s.State(); got != call.StateListening {
		t.Errorf("state after decision error = %v, want listening", got)
	}
	if s.Window.Len() == 0 {
		t.Error("transcript window lost on decision error")
	}
	if resp.CompleteCallCount() != 0 {
		t.Error("response service called despite decision error")
	}
}

func TestRunRound_MalformedResponseReturnsToListening(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": true}`}}}
	resp := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: "I would rather chat freely."}}}
	synth := &ttsmock.Provider{}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "tell me a story")
	c.runRound(context.Background(), s, c.logger)

	if got := s.State(); got != call.StateListening {
		t.Errorf("state after malformed response = %v, want listening", got)
	}
	if synth.SynthesizeCallCount() != 0 {
		t.Error("synthesizer called despite malformed response")
	}
}

func TestRunRound_SynthesisFailureAbortsWithoutClearing(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": true}`}}}
	resp := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"text": "One moment."}`}}}
	synth := &ttsmock.Provider{SynthesizeErr: errors.New("voice server unreachable")}
	c := testController(t, dec, resp, synth)

	s := decidingSession(t, "are you still there")
	c.runRound(context.Background(), s, c.logger)

	if got := s.State(); got != call.StateListening {
		t.Errorf("state after synthesis failure = %v, want listening", got)
	}
	if s.Window.Len() == 0 {
		t.Error("transcript window cleared on synthesis failure; the words should stay eligible")
	}

	select {
	case <-s.Speech():
		t.Error("an utterance was queued despite synthesis failure")
	default:
	}
}

func TestRunRound_NoRefireWhileRoundInFlight(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": false}`}}}
	c := testController(t, dec, &llmmock.Provider{}, &ttsmock.Provider{})

	s := decidingSession(t, "one two three")

	// While a round is in flight the session is Deciding and another
	// cadence tick must not start a second round.
	if s.BeginDeciding(0) {
		t.Fatal("BeginDeciding fired while a round was already in flight")
	}

	c.runRound(context.Background(), s, c.logger)

	// After a silent round the clock was reset on entry, so an immediate
	// re-check inside the interval stays quiet too.
	if s.BeginDeciding(time.Hour) {
		t.Error("BeginDeciding fired again inside the interval")
	}
}

func TestRun_FiresRoundEndToEnd(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"speak": true}`}}}
	resp := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: `{"text": "Hello!"}`}}}
	synth := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: make([]int16, 160), SampleRate: 8000},
	}
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c, err := New(Config{
		Decision:    NewDecisionService(dec, 0),
		Response:    NewResponseService(resp, 0, ""),
		Synthesizer: synth,
		Interval:    10 * time.Millisecond,
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := call.NewSession("MZrun", "CArun", nil, 0)
	s.Activate()
	s.Window.Append("hello is anyone there")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, s)
	}()

	select {
	case u := <-s.Speech():
		if len(u.PCM) != 160 {
			t.Errorf("queued PCM length = %d, want 160", len(u.PCM))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cadence never produced an utterance")
	}

	s.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the session closed")
	}
}

func TestRun_EmptyWindowNeverFires(t *testing.T) {
	t.Parallel()

	dec := &llmmock.Provider{}
	c := testController(t, dec, &llmmock.Provider{}, &ttsmock.Provider{})

	s := call.NewSession("MZquiet", "CAquiet", nil, 0)
	s.Activate()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Run(ctx, s)

	if dec.CompleteCallCount() != 0 {
		t.Errorf("decision service called %d times on an empty window, want 0", dec.CompleteCallCount())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	dec := NewDecisionService(&llmmock.Provider{}, 0)
	resp := NewResponseService(&llmmock.Provider{}, 0, "")
	synth := &ttsmock.Provider{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing decision", cfg: Config{Response: resp, Synthesizer: synth}},
		{name: "missing response", cfg: Config{Decision: dec, Synthesizer: synth}},
		{name: "missing synthesizer", cfg: Config{Decision: dec, Response: resp}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.cfg); err == nil {
				t.Error("New accepted an incomplete config")
			}
		})
	}
}
