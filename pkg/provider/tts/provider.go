// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local CSM server)
// and turns a reply text into PCM audio. Synthesis is a batch operation: the
// pipeline waits for the full reply text before synthesising, then downsamples
// and chunks the clip for the telephone wire.
//
// Implementations must be safe for concurrent use; multiple calls may
// synthesise replies at the same time.
package tts

import "context"

// Turn is one prior exchange supplied as synthesis context. Conversational
// TTS models use it to keep prosody consistent across a call.
type Turn struct {
	// Speaker identifies who spoke: 0 for the caller, 1 for the agent.
	Speaker int

	// Text is what was said.
	Text string
}

// Request carries the text to synthesise plus optional conversation context.
type Request struct {
	// Text is the reply to speak. Must be non-empty.
	Text string

	// Context is the rolling history of prior turns in this call, oldest
	// first. Providers that do not use context ignore it.
	Context []Turn
}

// Clip is a synthesised audio clip at the provider's native sample rate.
// The caller is responsible for resampling to the wire rate.
type Clip struct {
	// PCM holds signed 16-bit mono samples.
	PCM []int16

	// SampleRate is the clip's sample rate in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Synthesize converts req.Text into an audio clip. Returns an error for an
	// empty text, an unreachable backend, or a cancelled context.
	Synthesize(ctx context.Context, req Request) (*Clip, error)
}
