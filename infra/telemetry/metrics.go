// Package telemetry wires the hub's counters to OpenTelemetry. The meter
// provider uses a manual reader: nothing is exported while the process runs,
// but tests and the shutdown hook can collect a snapshot on demand.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/causalchat/chat-delivery-service"

// Metrics bundles the service instruments. A nil *Metrics is a valid no-op
// receiver so the hub can run uninstrumented in tests.
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	sessionsActive  metric.Int64UpDownCounter
	messagesStamped metric.Int64Counter
	framesRejected  metric.Int64Counter
	chatsBroadcast  metric.Int64Counter
}

func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(meterName)

	m := &Metrics{reader: reader, provider: provider}

	var err error
	if m.sessionsActive, err = meter.Int64UpDownCounter("chat.sessions.active",
		metric.WithDescription("Connected participant sessions")); err != nil {
		return nil, fmt.Errorf("telemetry: sessions counter: %w", err)
	}
	if m.messagesStamped, err = meter.Int64Counter("chat.messages.stamped",
		metric.WithDescription("Chat messages stamped with a vector clock")); err != nil {
		return nil, fmt.Errorf("telemetry: stamped counter: %w", err)
	}
	if m.framesRejected, err = meter.Int64Counter("chat.frames.rejected",
		metric.WithDescription("Inbound frames dropped at the protocol layer")); err != nil {
		return nil, fmt.Errorf("telemetry: rejected counter: %w", err)
	}
	if m.chatsBroadcast, err = meter.Int64Counter("chat.messages.broadcast",
		metric.WithDescription("Chat frames fanned out to recipients")); err != nil {
		return nil, fmt.Errorf("telemetry: broadcast counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

func (m *Metrics) MessageStamped(ctx context.Context, roomID string) {
	if m == nil {
		return
	}
	m.messagesStamped.Add(ctx, 1, metric.WithAttributes(attribute.String("room", roomID)))
}

func (m *Metrics) FrameRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.framesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) ChatBroadcast(ctx context.Context, recipients int) {
	if m == nil {
		return
	}
	m.chatsBroadcast.Add(ctx, int64(recipients))
}

// Collect drains the manual reader into rm.
func (m *Metrics) Collect(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if m == nil {
		return nil
	}
	return m.reader.Collect(ctx, rm)
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
