package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/toolgate/internal/dispatch"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// Metric names.
const (
	MetricToolCalls        = "toolgate.tool.calls"
	MetricToolLatency      = "toolgate.tool.latency"
	MetricUpstreamAttempts = "toolgate.upstream.attempts"
	MetricUpstreamRetries  = "toolgate.upstream.retries"
	MetricUpstreamLatency  = "toolgate.upstream.latency"
)

// Observer records tool calls and upstream attempts into OpenTelemetry.
type Observer struct {
	tracer trace.Tracer

	toolCalls        metric.Int64Counter
	toolLatency      metric.Float64Histogram
	upstreamAttempts metric.Int64Counter
	upstreamRetries  metric.Int64Counter
	upstreamLatency  metric.Float64Histogram
}

// NewObserver creates an observer bound to the provided meter/tracer.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	toolCalls, err := meter.Int64Counter(
		MetricToolCalls,
		metric.WithDescription("Number of tool calls"),
	)
	if err != nil {
		return nil, err
	}
	toolLatency, err := meter.Float64Histogram(
		MetricToolLatency,
		metric.WithDescription("Tool call latency in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	upstreamAttempts, err := meter.Int64Counter(
		MetricUpstreamAttempts,
		metric.WithDescription("Number of upstream HTTP attempts"),
	)
	if err != nil {
		return nil, err
	}
	upstreamRetries, err := meter.Int64Counter(
		MetricUpstreamRetries,
		metric.WithDescription("Number of upstream attempts that were retried"),
	)
	if err != nil {
		return nil, err
	}
	upstreamLatency, err := meter.Float64Histogram(
		MetricUpstreamLatency,
		metric.WithDescription("Upstream attempt latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:           tracer,
		toolCalls:        toolCalls,
		toolLatency:      toolLatency,
		upstreamAttempts: upstreamAttempts,
		upstreamRetries:  upstreamRetries,
		upstreamLatency:  upstreamLatency,
	}, nil
}

// ObserveTool records one finished tool call.
func (o *Observer) ObserveTool(observation dispatch.ToolObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.Tool),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", string(observation.ErrorKind)))
	}

	ctx := context.Background()
	duration := time.Duration(observation.DurationMS) * time.Millisecond
	options := metric.WithAttributes(attrs...)
	o.toolCalls.Add(ctx, 1, options)
	o.toolLatency.Record(ctx, duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	spanAttrs := append(attrs, attribute.Int("attempts", observation.Attempts))
	if observation.FailedIn != "" {
		spanAttrs = append(spanAttrs, attribute.String("failed_in", string(observation.FailedIn)))
	}
	_, span := o.tracer.Start(ctx, "tool.call",
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithAttributes(spanAttrs...),
	)
	if !observation.Success {
		span.SetStatus(codes.Error, string(observation.ErrorKind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// ObserveAttempt records one upstream HTTP attempt.
func (o *Observer) ObserveAttempt(observation upstream.AttemptObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", observation.Operation),
		attribute.String("method", observation.Method),
		attribute.String("outcome", observation.Kind.String()),
	}
	if observation.Status != 0 {
		attrs = append(attrs, attribute.Int("status", observation.Status))
	}
	if observation.Class != upstream.ClassNone {
		attrs = append(attrs, attribute.String("class", string(observation.Class)))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.upstreamAttempts.Add(ctx, 1, options)
	o.upstreamLatency.Record(ctx, observation.Duration.Seconds(), options)
	if observation.Attempt > 0 {
		o.upstreamRetries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", observation.Operation),
			attribute.Int("attempt", observation.Attempt),
		))
	}
}

// ObserveCall records a whole upstream call as a span.
func (o *Observer) ObserveCall(observation upstream.CallObservation) {
	if o == nil || o.tracer == nil {
		return
	}

	end := time.Now()
	_, span := o.tracer.Start(context.Background(), "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(end.Add(-observation.Duration)),
		trace.WithAttributes(
			attribute.String("operation", observation.Operation),
			attribute.String("method", observation.Method),
			attribute.Int("attempts", observation.Attempts),
			attribute.Int("status", observation.Status),
		),
	)
	if !observation.Success {
		span.SetStatus(codes.Error, string(observation.Class))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

var (
	_ dispatch.Observer = (*Observer)(nil)
	_ upstream.Observer = (*Observer)(nil)
)
