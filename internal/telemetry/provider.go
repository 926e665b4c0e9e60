// Package telemetry wires OpenTelemetry metrics and tracing for tool calls
// and upstream attempts.
package telemetry

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bobmcallan/toolgate/internal/config"
)

const instrumentationName = "github.com/bobmcallan/toolgate"

// Providers owns the meter and tracer providers for the process.
type Providers struct {
	reader *sdkmetric.ManualReader
	meter  *sdkmetric.MeterProvider
	tracer *sdktrace.TracerProvider // nil when no exporter is configured
}

// Setup builds the providers. Metrics are always collected in-process and
// served as a snapshot; traces are exported over OTLP/HTTP only when an
// endpoint is configured.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string) (*Providers, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "toolgate"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", version),
	)

	p := &Providers{reader: sdkmetric.NewManualReader()}
	p.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(p.reader),
		sdkmetric.WithResource(res),
	)

	if cfg.Enabled && cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		p.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
	}
	return p, nil
}

// Meter returns the process meter.
func (p *Providers) Meter() metric.Meter {
	return p.meter.Meter(instrumentationName)
}

// Tracer returns the process tracer, a no-op when tracing is disabled.
func (p *Providers) Tracer() trace.Tracer {
	if p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer.Tracer(instrumentationName)
}

// Observer creates an Observer bound to these providers.
func (p *Providers) Observer() (*Observer, error) {
	return NewObserver(p.Meter(), p.Tracer())
}

// Point is one metric data point in a snapshot.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value,omitempty"` // counters
	Count      uint64            `json:"count,omitempty"` // histograms
	Sum        float64           `json:"sum,omitempty"`   // histograms
}

// Snapshot collects the current metric values, sorted by name.
func (p *Providers) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	points := []Point{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs *multierror.Error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := p.meter.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("meter shutdown: %w", err))
	}
	return errs.ErrorOrNil()
}
