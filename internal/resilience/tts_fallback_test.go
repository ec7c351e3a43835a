package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
	ttsmock "github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: []int16{1, 2, 3}, SampleRate: 24000},
	}
	secondary := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: []int16{9}, SampleRate: 22050},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	clip, err := fb.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.SampleRate != 24000 || len(clip.PCM) != 3 {
		t.Fatalf("clip = %+v, want primary's clip", clip)
	}
	if secondary.SynthesizeCallCount() != 0 {
		t.Error("secondary was called although the primary succeeded")
	}
}

func TestTTSFallback_Synthesize_FailsOverToSecondary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("voice server down")}
	secondary := &ttsmock.Provider{
		Clip: &tts.Clip{PCM: []int16{7, 7}, SampleRate: 22050},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	clip, err := fb.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.SampleRate != 22050 {
		t.Fatalf("clip sample rate = %d, want the secondary's 22050", clip.SampleRate)
	}
	if got := secondary.SynthesizeCalls[0].Req.Text; got != "hi" {
		t.Errorf("secondary received text %q, want %q", got, "hi")
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("also down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}
