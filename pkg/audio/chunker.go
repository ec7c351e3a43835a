package audio

// Frame is one outbound unit of audio on the telephony wire: a fixed-duration
// μ-law payload stamped with a sequence number and timestamp, or — when Mark
// is set — the zero-length completion marker that ends an utterance.
// Frames are immutable after creation.
type Frame struct {
	// Payload holds the μ-law encoded audio bytes. Empty for a mark frame.
	Payload []byte

	// Seq is the frame's position in the session's outbound sequence.
	Seq int64

	// TimestampMs is the frame's presentation timestamp in milliseconds,
	// derived from the sequence number. Zero for a mark frame.
	TimestampMs int64

	// Mark reports whether this is the end-of-utterance completion marker.
	Mark bool
}

// Chunker splits linear PCM at the wire rate into fixed-duration μ-law
// frames. The zero value is not usable; construct with NewChunker.
type Chunker struct {
	frameSamples int
	frameMs      int64
}

// NewChunker derives the per-frame sample count from the wire sample rate
// and frame duration (e.g. 8000 Hz × 20 ms → 160 samples).
func NewChunker(wireRate, frameMs int) Chunker {
	return Chunker{
		frameSamples: wireRate * frameMs / 1000,
		frameMs:      int64(frameMs),
	}
}

// FrameSamples returns the per-frame sample count.
func (c Chunker) FrameSamples() int { return c.frameSamples }

// Chunk encodes pcm to μ-law and splits it into exact frameSamples-sized
// frames. Any final remainder shorter than one frame is dropped — the wire
// protocol requires fixed-size frames and never pads.
//
// Frame i carries Seq = base+i and TimestampMs = frameMs*(Seq-1). After the
// last real frame a mark frame with Seq = base+frameCount is appended, and
// the returned next sequence is base+frameCount+1 so successive utterances
// in the same call continue monotonically without collisions.
func (c Chunker) Chunk(pcm []int16, base int64) (frames []Frame, next int64) {
	n := len(pcm) / c.frameSamples
	frames = make([]Frame, 0, n+1)
	for i := range n {
		seq := base + int64(i)
		frames = append(frames, Frame{
			Payload:     EncodeMuLaw(pcm[i*c.frameSamples : (i+1)*c.frameSamples]),
			Seq:         seq,
			TimestampMs: c.frameMs * (seq - 1),
		})
	}
	frames = append(frames, Frame{Seq: base + int64(n), Mark: true})
	return frames, base + int64(n) + 1
}
