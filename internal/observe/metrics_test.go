package observe

import (
	"context"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		if i := slices.IndexFunc(sm.Metrics, func(m metricdata.Metrics) bool { return m.Name == name }); i >= 0 {
			return &sm.Metrics[i]
		}
	}
	return nil
}

// sumFor returns the value of the data point of counter name carrying
// key=value, or -1 when absent.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognition(ctx, "buffered", 120*time.Millisecond)
	m.RecordRecognition(ctx, "buffered", 450*time.Millisecond)
	m.RecordPlayback(ctx, StatusOK, time.Second)
	m.RecordPlayback(ctx, StatusOK, 2*time.Second)

	rm := collect(t, reader)
	for _, name := range []string{"earshot.recognition.duration", "earshot.playback.duration"} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.DecodeFaults.Add(ctx, 3)
	m.RecordReconnect(ctx, OutcomeRetry)
	m.RecordReconnect(ctx, OutcomeRetry)
	m.RecordReconnect(ctx, OutcomeSuccess)
	m.RecordRecognizerFault(ctx, "streaming")
	m.RecordTranscript(ctx, "buffered")
	m.RecordTranscript(ctx, "buffered")
	m.TriggersMatched.Add(ctx, 4)
	m.RecordPlayback(ctx, StatusTimeout, 30*time.Second)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"earshot.decode_faults", "", "", 3},
		{"earshot.reconnects", "outcome", OutcomeRetry, 2},
		{"earshot.reconnects", "outcome", OutcomeSuccess, 1},
		{"earshot.recognizer_faults", "engine", "streaming", 1},
		{"earshot.transcripts", "engine", "buffered", 2},
		{"earshot.triggers_matched", "", "", 4},
		{"earshot.playback", "status", StatusTimeout, 1},
	}
	for _, tc := range tests {
		if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.name, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.QueueDepth.Add(ctx, 5)
	m.QueueDepth.Add(ctx, -2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "earshot.active_sessions", "", ""); got != 2 {
		t.Errorf("active_sessions = %d, want 2", got)
	}
	if got := sumFor(t, rm, "earshot.queue_depth", "", ""); got != 3 {
		t.Errorf("queue_depth = %d, want 3", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
