// Package stt defines the Provider interface for speech-recognition backends.
//
// An STT provider wraps a transcription engine (a whisper HTTP server or the
// in-process whisper.cpp bindings) and exposes a uniform streaming interface.
// The central abstraction is SessionHandle: once opened, a session accepts
// raw PCM audio and emits two streams of Transcript values — low-latency
// partials for diagnostics and authoritative finals that feed the transcript
// window and the decision cadence.
//
// Implementations must be safe for concurrent use; one session is opened per
// phone call and several calls run simultaneously.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony callers pass the
	// wire rate (8000); providers that need more may resample internally.
	SampleRate int

	// Channels is the number of audio channels. Telephony audio is mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so tests can substitute mock implementations.
//
// Callers must call Close when the session ends; failing to do so may leak
// goroutines inside the provider. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM to the
	// provider. The chunk must match the format agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim Transcript
	// values. Partials are for live display and diagnostics only — they are
	// never committed to the transcript window. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative Transcript
	// values, in arrival order. Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and closes both
	// transcript channels. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any speech-recognition backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously (one per active call).
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns
	// the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
