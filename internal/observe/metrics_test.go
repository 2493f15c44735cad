package observe

import (
	"context"
	"errors"
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
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the counter value of the data point carrying every
// key=value pair in attrs.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		matched := 0
		for _, kv := range dp.Attributes.ToSlice() {
			if want, ok := attrs[string(kv.Key)]; ok && kv.Value.Emit() == want {
				matched++
			}
		}
		if matched == len(attrs) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, attrs)
	return 0
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := t.Context()

	m.RecordAck(ctx, "item", true, 120*time.Millisecond)
	m.RecordAck(ctx, "reply", false, 4*time.Second)
	m.RecordTurn(ctx, "realtime", nil, time.Second)
	m.RecordTurn(ctx, "fallback", errors.New("boom"), 3*time.Second)
	m.FallbackDuration.Record(ctx, 0.8)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"voxlink.ack.duration":      2,
		"voxlink.turn.duration":     2,
		"voxlink.fallback.duration": 1,
	} {
		t.Run(name, func(t *testing.T) {
			if got := histogramCount(t, rm, name); got != want {
				t.Errorf("sample count = %d, want %d", got, want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := t.Context()

	m.RecordTransition(ctx, "idle", "thinking", "send_accepted")
	m.RecordTransition(ctx, "idle", "thinking", "send_accepted")
	m.RecordRecovery(ctx, "recreated")
	m.RecordProtocolError(ctx, "response_cancel_not_active", false)
	m.RecordProtocolError(ctx, "server_error", true)
	m.RecordFallback(ctx, "openai", "ok")
	m.RecordFallback(ctx, "anthropic", "skipped")
	m.CaptureChunks.Add(ctx, 3)
	m.PlaybackSegments.Add(ctx, 2)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs map[string]string
		want  int64
	}{
		{"voxlink.state.transitions", map[string]string{"from": "idle", "to": "thinking", "event": "send_accepted"}, 2},
		{"voxlink.recovery.outcomes", map[string]string{"outcome": "recreated"}, 1},
		{"voxlink.protocol.errors", map[string]string{"code": "server_error", "critical": "true"}, 1},
		{"voxlink.protocol.errors", map[string]string{"code": "response_cancel_not_active", "critical": "false"}, 1},
		{"voxlink.fallback.requests", map[string]string{"responder": "anthropic", "status": "skipped"}, 1},
		{"voxlink.capture.chunks", map[string]string{}, 3},
		{"voxlink.playback.segments", map[string]string{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumWhere(t, rm, tt.name, tt.attrs); got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := t.Context()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)

	if got := sumWhere(t, collect(t, reader), "voxlink.active_sessions", map[string]string{}); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
