package audio_test

import (
	"testing"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/audio"
)

func TestResample_Identity(t *testing.T) {
	t.Parallel()

	in := []int16{100, 200, 300, -400}
	out, err := audio.Resample(in, 8000, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input slice unchanged")
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()

	// 24 kHz → 8 kHz keeps every third sample's worth of duration.
	in := make([]int16, 240)
	out, err := audio.Resample(in, 24000, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 80 {
		t.Errorf("got %d samples, want 80", len(out))
	}
}

func TestResample_Upsample_Interpolates(t *testing.T) {
	t.Parallel()

	in := []int16{0, 100}
	out, err := audio.Resample(in, 8000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d samples, want 4", len(out))
	}
	if out[0] != 0 {
		t.Errorf("out[0] = %d, want 0", out[0])
	}
	if out[1] != 50 {
		t.Errorf("out[1] = %d, want 50 (midpoint)", out[1])
	}
}

func TestResample_InvalidRates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		src, dst int
	}{
		{"zero destination", 8000, 0},
		{"negative destination", 8000, -1},
		{"zero source", 0, 8000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.Resample([]int16{1, 2, 3}, tc.src, tc.dst); err == nil {
				t.Errorf("Resample(%d, %d): want error, got nil", tc.src, tc.dst)
			}
		})
	}
}

func TestResample_EmptyInput(t *testing.T) {
	t.Parallel()

	out, err := audio.Resample(nil, 24000, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d samples, want 0", len(out))
	}
}

func TestClipFloat(t *testing.T) {
	t.Parallel()

	out := audio.ClipFloat([]float32{0, 0.5, 1.0, -1.0, 1.5, -1.5})
	want := []int16{0, 16383, 32767, -32767, 32767, -32768}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}
