package audio

import "fmt"

// Resample converts mono 16-bit PCM from srcRate to dstRate using linear
// interpolation over the sample index space. When srcRate == dstRate the
// input slice is returned unchanged (zero allocation). An empty input
// returns an empty output.
//
// A non-positive source or destination rate is an input-contract violation
// and returns an error rather than a silently empty result.
func Resample(pcm []int16, srcRate, dstRate int) ([]int16, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample rates must be positive, got %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(pcm) == 0 {
		return pcm, nil
	}

	dstLen := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := pcm[srcIdx]
		s1 := s0
		if srcIdx+1 < len(pcm) {
			s1 = pcm[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out, nil
}

// ClipFloat converts float32 samples in [-1, 1] to 16-bit PCM, clipping any
// overshoot instead of wrapping. Used for TTS engines that return normalized
// float audio.
func ClipFloat(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
