// Package mock provides a test double for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider. Every Synthesize call
// returns Clip (or SynthesizeErr) and is recorded for later inspection.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by every Synthesize call. If nil, an empty clip at
	// 24 kHz is returned.
	Clip *tts.Clip

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, handles every Synthesize call instead of
	// the canned Clip.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Clip, error)

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the canned clip or error.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	if fn == nil {
		if p.SynthesizeErr != nil {
			err := p.SynthesizeErr
			p.mu.Unlock()
			return nil, err
		}
		clip := p.Clip
		p.mu.Unlock()
		if clip == nil {
			return &tts.Clip{SampleRate: 24000}, nil
		}
		return clip, nil
	}
	p.mu.Unlock()
	return fn(ctx, req)
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
