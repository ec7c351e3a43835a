package csm_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts"
	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/tts/csm"
)

// makeWAV builds a minimal RIFF/WAV file holding the given 16-bit mono
// samples at the given rate.
func makeWAV(samples []int16, rate, channels int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := csm.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestSynthesize_DecodesWAVResponse(t *testing.T) {
	t.Parallel()

	want := []int16{100, -200, 300, -400}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/audio/conversation" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write(makeWAV(want, 24000, 1))
	}))
	defer srv.Close()

	p, err := csm.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", clip.SampleRate)
	}
	if len(clip.PCM) != len(want) {
		t.Fatalf("got %d samples, want %d", len(clip.PCM), len(want))
	}
	for i := range want {
		if clip.PCM[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, clip.PCM[i], want[i])
		}
	}
}

func TestSynthesize_SendsConversationContext(t *testing.T) {
	t.Parallel()

	var got struct {
		Text           string  `json:"text"`
		SpeakerID      int     `json:"speaker_id"`
		Temperature    float64 `json:"temperature"`
		ResponseFormat string  `json:"response_format"`
		TopK           int     `json:"topk"`
		Context        []struct {
			Speaker int    `json:"speaker"`
			Text    string `json:"text"`
		} `json:"context"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write(makeWAV([]int16{0}, 24000, 1))
	}))
	defer srv.Close()

	p, _ := csm.New(srv.URL, csm.WithSpeakerID(1), csm.WithTemperature(0.5), csm.WithTopK(40))
	_, err := p.Synthesize(context.Background(), tts.Request{
		Text: "booking confirmed",
		Context: []tts.Turn{
			{Speaker: 0, Text: "can you book it"},
			{Speaker: 1, Text: "of course"},
		},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got.Text != "booking confirmed" {
		t.Errorf("text = %q", got.Text)
	}
	if got.SpeakerID != 1 || got.Temperature != 0.5 || got.TopK != 40 {
		t.Errorf("tuning = (%d, %v, %d), want (1, 0.5, 40)", got.SpeakerID, got.Temperature, got.TopK)
	}
	if got.ResponseFormat != "wav" {
		t.Errorf("response_format = %q, want wav", got.ResponseFormat)
	}
	if len(got.Context) != 2 || got.Context[0].Speaker != 0 || got.Context[1].Text != "of course" {
		t.Errorf("context did not round-trip: %+v", got.Context)
	}
}

func TestSynthesize_StereoDownmix(t *testing.T) {
	t.Parallel()

	// Interleaved stereo: L=100/R=300 then L=-200/R=-400.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeWAV([]int16{100, 300, -200, -400}, 22050, 2))
	}))
	defer srv.Close()

	p, _ := csm.New(srv.URL)
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(clip.PCM) != 2 {
		t.Fatalf("got %d samples after downmix, want 2", len(clip.PCM))
	}
	if clip.PCM[0] != 200 || clip.PCM[1] != -300 {
		t.Errorf("downmix = %v, want [200 -300]", clip.PCM)
	}
}

func TestSynthesize_EmptyText_ReturnsError(t *testing.T) {
	t.Parallel()

	p, _ := csm.New("http://localhost:1")
	if _, err := p.Synthesize(context.Background(), tts.Request{}); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}

func TestSynthesize_ServerError_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := csm.New(srv.URL)
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for HTTP 503, got nil")
	}
}

func TestSynthesize_NonWAVBody_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not audio"))
	}))
	defer srv.Close()

	p, _ := csm.New(srv.URL)
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for non-WAV body, got nil")
	}
}

func TestSynthesize_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeWAV([]int16{0}, 24000, 1))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := csm.New(srv.URL)
	if _, err := p.Synthesize(ctx, tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
