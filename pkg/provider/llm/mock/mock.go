// Package mock provides a test double for the llm package interfaces.
//
// Use Provider to script completion responses and inspect the requests the
// cadence engine issued.
package mock

import (
	"context"
	"sync"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm"
)

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed in order: the first Complete call returns
// Responses[0], the second Responses[1], and so on. When the script runs out
// the last response repeats. CompleteFunc, when set, overrides the scripted
// responses entirely.
type Provider struct {
	mu sync.Mutex

	// Responses is the ordered script of responses to return.
	Responses []llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from every Complete call.
	CompleteErr error

	// CompleteFunc, if non-nil, handles every Complete call instead of the
	// scripted Responses.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteCalls records every call to Complete.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn == nil {
		if p.CompleteErr != nil {
			err := p.CompleteErr
			p.mu.Unlock()
			return nil, err
		}
		if len(p.Responses) == 0 {
			p.mu.Unlock()
			return &llm.CompletionResponse{}, nil
		}
		idx := p.next
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		p.next++
		resp := p.Responses[idx]
		p.mu.Unlock()
		return &resp, nil
	}
	p.mu.Unlock()
	return fn(ctx, req)
}

// CompleteCallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls and rewinds the response script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
