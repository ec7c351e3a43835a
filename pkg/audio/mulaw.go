// Package audio provides the pure audio primitives for the Lucy telephony
// pipeline: G.711 μ-law codec, linear-interpolation resampling, and the
// frame chunker that turns synthesized PCM into sequenced 20 ms wire frames.
//
// All functions operate on signed 16-bit mono PCM. The codec is lossy by
// design — μ-law quantizes logarithmically — so encode/decode round trips are
// close but not bit-exact.
package audio

import "encoding/binary"

const (
	// muLawBias is the G.711 encoder bias added before segment search.
	muLawBias = 0x84

	// muLawClip is the largest magnitude representable after biasing.
	// Samples beyond it are clipped, never wrapped.
	muLawClip = 32635
)

// EncodeMuLaw compresses 16-bit linear PCM samples to 8-bit G.711 μ-law.
// An empty input returns an empty (non-nil) output.
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = encodeMuLawSample(s)
	}
	return out
}

// DecodeMuLaw expands 8-bit G.711 μ-law bytes to 16-bit linear PCM samples.
// An empty input returns an empty (non-nil) output.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = decodeMuLawSample(b)
	}
	return out
}

// encodeMuLawSample compresses one sample using the segmented G.711 μ-law
// companding curve (8 segments, 4-bit mantissa, complemented output).
func encodeMuLawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := byte(7)
	for mask := int32(0x4000); exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mantissa := byte(v>>(exp+3)) & 0x0F
	return ^(sign | exp<<4 | mantissa)
}

// decodeMuLawSample expands one μ-law byte back to linear PCM.
func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	v := ((mantissa<<3 + muLawBias) << exp) - muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// PCM16Bytes converts samples to little-endian 16-bit PCM bytes, the layout
// expected by the STT providers.
func PCM16Bytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16Samples converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is dropped.
func PCM16Samples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
