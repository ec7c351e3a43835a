// Package csm provides a TTS provider backed by a local CSM (Conversational
// Speech Model) server.
//
// The server exposes POST /api/v1/audio/conversation which accepts a JSON
// body with the text to speak, a speaker id, and the rolling conversation
// context, and responds with a complete WAV file. The provider decodes the
// WAV container and returns raw PCM at the model's native rate; downsampling
// to the telephone wire rate is the caller's job.
//
// Usage:
//
//	p, err := csm.New("http://localhost:8000",
//	    csm.WithTemperature(0.7),
//	    csm.WithTopK(50),
//	)
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "One moment please."})
package csm

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	conversationEndpoint = "/api/v1/audio/conversation"

	defaultSpeakerID   = 0
	defaultTemperature = 0.7
	defaultTopK        = 50
	defaultTimeout     = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSpeakerID sets the speaker id sent with every synthesis request.
// Defaults to 0.
func WithSpeakerID(id int) Option {
	return func(p *Provider) { p.speakerID = id }
}

// WithTemperature sets the sampling temperature for synthesis. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithTopK sets the top-k sampling parameter for synthesis. Defaults to 50.
func WithTopK(k int) Option {
	return func(p *Provider) { p.topK = k }
}

// WithTimeout sets the per-request HTTP timeout. Synthesis of a long reply on
// CPU can take tens of seconds, so the default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient overrides the HTTP client used for synthesis requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by a CSM HTTP server. It is safe
// for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL   string
	speakerID   int
	temperature float64
	topK        int
	httpClient  *http.Client
}

// New creates a new Provider that targets the CSM server at serverURL
// (e.g., "http://localhost:8000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("csm: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:   strings.TrimRight(serverURL, "/"),
		speakerID:   defaultSpeakerID,
		temperature: defaultTemperature,
		topK:        defaultTopK,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// conversationRequest is the JSON body sent to the conversation endpoint.
type conversationRequest struct {
	Text           string             `json:"text"`
	SpeakerID      int                `json:"speaker_id"`
	Context        []conversationTurn `json:"context"`
	Temperature    float64            `json:"temperature"`
	ResponseFormat string             `json:"response_format"`
	TopK           int                `json:"topk"`
}

type conversationTurn struct {
	Speaker int    `json:"speaker"`
	Text    string `json:"text"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	if req.Text == "" {
		return nil, errors.New("csm: text must not be empty")
	}

	body := conversationRequest{
		Text:           req.Text,
		SpeakerID:      p.speakerID,
		Context:        make([]conversationTurn, 0, len(req.Context)),
		Temperature:    p.temperature,
		ResponseFormat: "wav",
		TopK:           p.topK,
	}
	for _, t := range req.Context {
		body.Context = append(body.Context, conversationTurn{Speaker: t.Speaker, Text: t.Text})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("csm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.serverURL+conversationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("csm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("csm: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csm: server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("csm: read response body: %w", err)
	}

	pcm, rate, err := decodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("csm: decode wav response: %w", err)
	}
	return &tts.Clip{PCM: pcm, SampleRate: rate}, nil
}

// decodeWAV extracts mono 16-bit PCM samples and the sample rate from a
// RIFF/WAV container. Multi-channel audio is down-mixed by averaging.
func decodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcmBytes   []byte
	)

	// Walk the chunk list. Chunks are word-aligned.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcmBytes = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if sampleRate == 0 || pcmBytes == nil {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
	}
	if channels < 1 {
		return nil, 0, errors.New("invalid channel count")
	}

	samples := audio.PCM16Samples(pcmBytes)
	if channels > 1 {
		mono := make([]int16, len(samples)/channels)
		for i := range mono {
			var sum int
			for ch := range channels {
				sum += int(samples[i*channels+ch])
			}
			mono[i] = int16(sum / channels)
		}
		samples = mono
	}
	return samples, sampleRate, nil
}
