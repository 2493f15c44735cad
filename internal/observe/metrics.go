// Package observe provides the observability primitives for voxlink:
// OpenTelemetry metrics, tracing, trace-aware structured logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge set up by [InitProvider]. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a [metric.MeterProvider] backed by a
// manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voxlink instrument.
const meterName = "github.com/MrWong99/voxlink"

// Metrics holds the application's metric instruments. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AckDuration is the time an ack wait took. Attributes:
	//   kind = "item" | "reply", outcome = "ok" | "timeout"
	AckDuration metric.Float64Histogram

	// TurnDuration is the end-to-end latency of a text turn. Attributes:
	//   path = "realtime" | "fallback", status = "ok" | "error"
	TurnDuration metric.Float64Histogram

	// FallbackDuration is the latency of one non-streaming completion.
	FallbackDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts state machine transitions. Attributes: from, to, event.
	StateTransitions metric.Int64Counter

	// Recoveries counts recovery controller outcomes. Attribute: outcome.
	Recoveries metric.Int64Counter

	// ProtocolErrors counts inbound error events. Attributes: code, critical.
	ProtocolErrors metric.Int64Counter

	// FallbackRequests counts fallback responder attempts. Attributes:
	//   responder, status = "ok" | "error" | "skipped"
	FallbackRequests metric.Int64Counter

	// CaptureChunks counts PCM chunks forwarded to the session.
	CaptureChunks metric.Int64Counter

	// PlaybackSegments counts decoded segments queued for playback.
	PlaybackSegments metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is the number of registered realtime sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, route, status
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for the 2 s ack,
// 4 s reply and 8 s watchdog windows.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.AckDuration, err = histogram("voxlink.ack.duration",
		"Time spent waiting for an item or reply acknowledgement."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("voxlink.turn.duration",
		"End-to-end latency of a text turn."); err != nil {
		return nil, err
	}
	if met.FallbackDuration, err = histogram("voxlink.fallback.duration",
		"Latency of a non-streaming fallback completion."); err != nil {
		return nil, err
	}

	if met.StateTransitions, err = m.Int64Counter("voxlink.state.transitions",
		metric.WithDescription("Conversational state machine transitions by from, to and event."),
	); err != nil {
		return nil, err
	}
	if met.Recoveries, err = m.Int64Counter("voxlink.recovery.outcomes",
		metric.WithDescription("Recovery controller outcomes."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("voxlink.protocol.errors",
		metric.WithDescription("Inbound protocol error events by code."),
	); err != nil {
		return nil, err
	}
	if met.FallbackRequests, err = m.Int64Counter("voxlink.fallback.requests",
		metric.WithDescription("Fallback responder attempts by responder and status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureChunks, err = m.Int64Counter("voxlink.capture.chunks",
		metric.WithDescription("Microphone chunks forwarded to the session."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSegments, err = m.Int64Counter("voxlink.playback.segments",
		metric.WithDescription("Decoded speech segments queued for playback."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlink.active_sessions",
		metric.WithDescription("Number of registered realtime sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which
// does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAck records one ack wait.
func (m *Metrics) RecordAck(ctx context.Context, kind string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "timeout"
	}
	m.AckDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("kind", kind), Attr("outcome", outcome)),
	)
}

// RecordTurn records the latency of a completed text turn.
func (m *Metrics) RecordTurn(ctx context.Context, path string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TurnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("path", path), Attr("status", status)),
	)
}

// RecordTransition counts a state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, event string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("from", from), Attr("to", to), Attr("event", event)),
	)
}

// RecordRecovery counts a recovery controller outcome.
func (m *Metrics) RecordRecovery(ctx context.Context, outcome string) {
	m.Recoveries.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordProtocolError counts an inbound error event.
func (m *Metrics) RecordProtocolError(ctx context.Context, code string, critical bool) {
	m.ProtocolErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("code", code), Attr("critical", strconv.FormatBool(critical))),
	)
}

// RecordFallback counts one fallback responder attempt.
func (m *Metrics) RecordFallback(ctx context.Context, responder, status string) {
	m.FallbackRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("responder", responder), Attr("status", status)),
	)
}
