package supervisor

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/voxkey-labs/voxkey-core/supervisor"

// pipelineMetrics holds the counters exposed on /metrics. A nil receiver is
// valid and records nothing, so metric failures never disable dictation.
type pipelineMetrics struct {
	events    metric.Int64Counter
	sessions  metric.Int64Counter
	confirmed metric.Int64Counter
	keys      metric.Int64Counter
}

func newPipelineMetrics(log *slog.Logger) *pipelineMetrics {
	m := otel.Meter(meterName)
	pm := &pipelineMetrics{}

	var err error
	fail := func(e error) *pipelineMetrics {
		log.Warn("failed to create pipeline metrics", slog.String("error", e.Error()))
		return nil
	}
	if pm.events, err = m.Int64Counter("voxkey.pipeline.events",
		metric.WithDescription("Pipeline events by type.")); err != nil {
		return fail(err)
	}
	if pm.sessions, err = m.Int64Counter("voxkey.sessions.started",
		metric.WithDescription("Capture sessions started.")); err != nil {
		return fail(err)
	}
	if pm.confirmed, err = m.Int64Counter("voxkey.transcript.confirmed_chars",
		metric.WithDescription("Characters committed to the confirmed transcript.")); err != nil {
		return fail(err)
	}
	if pm.keys, err = m.Int64Counter("voxkey.keys.emitted",
		metric.WithDescription("Key events injected, including correction backspaces.")); err != nil {
		return fail(err)
	}
	return pm
}

func (m *pipelineMetrics) recordEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *pipelineMetrics) recordSessionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *pipelineMetrics) recordConfirmed(ctx context.Context, chars int) {
	if m == nil || chars <= 0 {
		return
	}
	m.confirmed.Add(ctx, int64(chars))
}

func (m *pipelineMetrics) recordKeys(ctx context.Context, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.keys.Add(ctx, int64(n))
}
