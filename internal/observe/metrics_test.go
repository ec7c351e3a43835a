package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectNames flushes the reader and returns the set of metric names seen.
func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = m
		}
	}
	return names
}

func TestNewMetrics_RecordsThroughProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordDecision(ctx, 120*time.Millisecond, "speak")
	m.RecordResponse(ctx, 300*time.Millisecond, "ok")
	m.RecordSynthesis(ctx, 2*time.Second, "ok")
	m.RecordUtterance(ctx, "reply")
	m.RecordUtterance(ctx, "injected")
	m.RecordInjectionRejection(ctx, "queue_full")
	m.RecordServiceError(ctx, "stt")
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.FramesIn.Add(ctx, 50)
	m.FramesOut.Add(ctx, 42)

	names := collectNames(t, reader)
	for _, want := range []string{
		"lucy.decision.duration",
		"lucy.response.duration",
		"lucy.synthesis.duration",
		"lucy.utterances",
		"lucy.injection.rejections",
		"lucy.service.errors",
		"lucy.active_sessions",
		"lucy.frames.in",
		"lucy.frames.out",
	} {
		if _, ok := names[want]; !ok {
			t.Errorf("metric %q was not exported", want)
		}
	}

	utterances, ok := names["lucy.utterances"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("lucy.utterances data is %T, want Sum[int64]", names["lucy.utterances"].Data)
	}
	if len(utterances.DataPoints) != 2 {
		t.Errorf("utterance kinds = %d, want 2 (reply, injected)", len(utterances.DataPoints))
	}

	active, ok := names["lucy.active_sessions"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("lucy.active_sessions data is %T, want Sum[int64]", names["lucy.active_sessions"].Data)
	}
	if got := active.DataPoints[0].Value; got != 0 {
		t.Errorf("active sessions after open+close = %d, want 0", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned distinct instances")
	}
}
