package mailsearch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailsearch"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the listener
// and the event handlers.
type otelInstrumentation struct {
	serviceName string

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	opLatency metric.Float64Histogram
	opCount   metric.Int64Counter
	opErrors  metric.Int64Counter

	// Projection outcomes
	fallbacks metric.Int64Counter
	abandoned metric.Int64Counter

	// Events dropped because the service was closing
	dropped metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		serviceName:    opts.serviceName,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	o.opLatency, err = meter.Float64Histogram(
		"mailsearch.op.duration",
		metric.WithDescription("Duration of listener operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.opCount, err = meter.Int64Counter(
		"mailsearch.op.count",
		metric.WithDescription("Number of listener operations"),
	)
	if err != nil {
		return err
	}

	o.opErrors, err = meter.Int64Counter(
		"mailsearch.op.errors",
		metric.WithDescription("Number of contained listener failures"),
	)
	if err != nil {
		return err
	}

	o.fallbacks, err = meter.Int64Counter(
		"mailsearch.projection.fallbacks",
		metric.WithDescription("Messages indexed without attachment text"),
	)
	if err != nil {
		return err
	}

	o.abandoned, err = meter.Int64Counter(
		"mailsearch.projection.abandoned",
		metric.WithDescription("Messages not indexed because both projections failed"),
	)
	if err != nil {
		return err
	}

	o.dropped, err = meter.Int64Counter(
		"mailsearch.events.dropped",
		metric.WithDescription("Events dropped while the service was not connected"),
	)
	return err
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span with the given error status.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordOp records listener operation metrics.
func (o *otelInstrumentation) recordOp(ctx context.Context, op Op, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", string(op)),
		attribute.String("service.name", o.serviceName),
	)
	o.opLatency.Record(ctx, duration.Seconds(), attrs)
	o.opCount.Add(ctx, 1, attrs)
	if err != nil {
		o.opErrors.Add(ctx, 1, attrs)
	}
}

func (o *otelInstrumentation) recordFallback(ctx context.Context) {
	if o.metricsEnabled {
		o.fallbacks.Add(ctx, 1)
	}
}

func (o *otelInstrumentation) recordAbandoned(ctx context.Context) {
	if o.metricsEnabled {
		o.abandoned.Add(ctx, 1)
	}
}

func (o *otelInstrumentation) recordDropped(ctx context.Context, eventName string) {
	if o.metricsEnabled {
		o.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventName)))
	}
}
