// Package observe provides the client's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and the
// HTTP middleware used by the diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. [DefaultMetrics] uses the global provider;
// tests should call [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all YUVA metrics.
const meterName = "github.com/MrWong99/yuva"

// Metrics holds the instruments recorded by the client. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesReceived counts decoded inbound frames by attribute "type".
	FramesReceived metric.Int64Counter

	// FramesSent counts outbound frames by attribute "action".
	FramesSent metric.Int64Counter

	// DecodeErrors counts dropped inbound frames.
	DecodeErrors metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnects of the realtime channel.
	ReconnectAttempts metric.Int64Counter

	// ChannelOpen is 1 while the realtime channel is open.
	ChannelOpen metric.Int64UpDownCounter

	// AuthRequests counts auth gateway calls by "op" and "status".
	AuthRequests metric.Int64Counter

	// AuthDuration tracks auth gateway round trips by "op".
	AuthDuration metric.Float64Histogram

	// StatusTransitions counts assistant status changes by "status".
	StatusTransitions metric.Int64Counter

	// PhaseTransitions counts session phase changes by "phase".
	PhaseTransitions metric.Int64Counter

	// TranscriptEntries counts transcript appends by "role".
	TranscriptEntries metric.Int64Counter

	// HTTPRequestDuration tracks diagnostics requests by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for local-network calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesReceived, err = m.Int64Counter("yuva.channel.frames_received",
		metric.WithDescription("Inbound realtime frames by envelope type."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("yuva.channel.frames_sent",
		metric.WithDescription("Outbound realtime frames by action."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("yuva.channel.decode_errors",
		metric.WithDescription("Inbound frames dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("yuva.channel.reconnect_attempts",
		metric.WithDescription("Reconnect attempts scheduled after the channel closed."),
	); err != nil {
		return nil, err
	}
	if met.ChannelOpen, err = m.Int64UpDownCounter("yuva.channel.open",
		metric.WithDescription("1 while the realtime channel is open."),
	); err != nil {
		return nil, err
	}

	if met.AuthRequests, err = m.Int64Counter("yuva.auth.requests",
		metric.WithDescription("Auth gateway calls by operation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.AuthDuration, err = m.Float64Histogram("yuva.auth.duration",
		metric.WithDescription("Auth gateway round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.StatusTransitions, err = m.Int64Counter("yuva.session.status_transitions",
		metric.WithDescription("Assistant status changes by new status."),
	); err != nil {
		return nil, err
	}
	if met.PhaseTransitions, err = m.Int64Counter("yuva.session.phase_transitions",
		metric.WithDescription("Session phase changes by new phase."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("yuva.transcript.entries",
		metric.WithDescription("Transcript entries appended by role."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("yuva.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// RecordFrameIn counts one decoded inbound frame.
func (m *Metrics) RecordFrameIn(ctx context.Context, typ string) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(Attr("type", typ)))
}

// RecordFrameOut counts one outbound frame.
func (m *Metrics) RecordFrameOut(ctx context.Context, action string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(Attr("action", action)))
}

// RecordAuth counts an auth call and records its latency.
func (m *Metrics) RecordAuth(ctx context.Context, op, status string, d time.Duration) {
	m.AuthRequests.Add(ctx, 1, metric.WithAttributes(Attr("op", op), Attr("status", status)))
	m.AuthDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("op", op)))
}

// RecordStatus counts a change of assistant status.
func (m *Metrics) RecordStatus(ctx context.Context, status string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordPhase counts a change of session phase.
func (m *Metrics) RecordPhase(ctx context.Context, phase string) {
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase)))
}

// RecordTranscriptEntry counts one transcript append.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(Attr("role", role)))
}
