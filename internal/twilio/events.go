// Package twilio implements the JSON event protocol spoken on the telephony
// media socket: inbound start/media/stop events carrying base64 μ-law audio,
// and outbound media/mark messages carrying synthesized frames.
//
// Historical gateway behaviour differs on where the stream id first appears —
// some streams announce it on "connected", others on "start". ParseEvent
// normalizes this: [Event.StreamID] prefers the start block and falls back to
// the top-level field, so callers see a single contract.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
)

// Event type names as they appear in the wire JSON.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

// TrackOutbound is the track label stamped on every frame Lucy sends.
const TrackOutbound = "outbound"

// Event is one decoded message from the media socket. Only the payload block
// matching Type is populated.
type Event struct {
	Type      string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries the stream metadata announced when a call's media
// stream begins.
type StartPayload struct {
	StreamSID  string   `json:"streamSid"`
	AccountSID string   `json:"accountSid,omitempty"`
	CallSID    string   `json:"callSid,omitempty"`
	Tracks     []string `json:"tracks,omitempty"`
}

// MediaPayload carries one audio frame. Payload is base64-encoded μ-law.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback marker echoed back by the gateway.
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseEvent decodes a raw socket message. A malformed message returns an
// error; per the error policy the caller skips it and keeps the session alive.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("twilio: malformed wire message: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("twilio: wire message missing event type")
	}
	return ev, nil
}

// StreamID returns the stream identifier for this event, preferring the
// start block over the top-level field.
func (e Event) StreamID() string {
	if e.Start != nil && e.Start.StreamSID != "" {
		return e.Start.StreamSID
	}
	return e.StreamSID
}

// AudioPayload decodes the base64 μ-law bytes of a media event.
func (e Event) AudioPayload() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("twilio: event %q carries no media payload", e.Type)
	}
	raw, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("twilio: decode media payload: %w", err)
	}
	return raw, nil
}

// outboundMedia is the wire shape of an outbound media message. The gateway
// expects sequence numbers and timestamps as decimal strings.
type outboundMedia struct {
	Event          string        `json:"event"`
	StreamSID      string        `json:"streamSid"`
	SequenceNumber string        `json:"sequenceNumber"`
	Media          outboundChunk `json:"media"`
}

type outboundChunk struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// outboundMark is the wire shape of the end-of-utterance marker.
type outboundMark struct {
	Event          string      `json:"event"`
	StreamSID      string      `json:"streamSid"`
	SequenceNumber string      `json:"sequenceNumber"`
	Mark           MarkPayload `json:"mark"`
}

// MarshalFrame encodes a chunker frame as the wire message to send for it:
// a media message for audio frames, a mark message (using markName) for the
// completion marker.
func MarshalFrame(streamSID, markName string, f audio.Frame) ([]byte, error) {
	seq := strconv.FormatInt(f.Seq, 10)
	if f.Mark {
		return json.Marshal(outboundMark{
			Event:          EventMark,
			StreamSID:      streamSID,
			SequenceNumber: seq,
			Mark:           MarkPayload{Name: markName},
		})
	}
	return json.Marshal(outboundMedia{
		Event:          EventMedia,
		StreamSID:      streamSID,
		SequenceNumber: seq,
		Media: outboundChunk{
			Track:     TrackOutbound,
			Chunk:     seq,
			Timestamp: strconv.FormatInt(f.TimestampMs, 10),
			Payload:   base64.StdEncoding.EncodeToString(f.Payload),
		},
	})
}
