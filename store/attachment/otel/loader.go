// Package otel provides OpenTelemetry instrumentation for attachment loaders.
package otel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rbaliyan/mailsearch/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailsearch/store/attachment/otel"
)

// Loader wraps a store.AttachmentLoader with OpenTelemetry instrumentation.
type Loader struct {
	backend store.AttachmentLoader
	opts    *options

	tracer trace.Tracer

	loadLatency metric.Float64Histogram
	loadCount   metric.Int64Counter
	loadBytes   metric.Int64Counter
	loadErrors  metric.Int64Counter
}

// Ensure Loader implements AttachmentLoader.
var _ store.AttachmentLoader = (*Loader)(nil)

// New creates an instrumented loader wrapping backend.
func New(backend store.AttachmentLoader, opts ...Option) (*Loader, error) {
	o := newOptions(opts...)
	l := &Loader{
		backend: backend,
		opts:    o,
	}
	if o.tracingEnabled {
		l.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := l.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return l, nil
}

func (l *Loader) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	l.loadLatency, err = meter.Float64Histogram(
		"attachment.load.duration",
		metric.WithDescription("Duration of attachment load operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	l.loadCount, err = meter.Int64Counter(
		"attachment.load.count",
		metric.WithDescription("Number of attachment load operations"),
	)
	if err != nil {
		return err
	}

	l.loadBytes, err = meter.Int64Counter(
		"attachment.load.bytes",
		metric.WithDescription("Total bytes loaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	l.loadErrors, err = meter.Int64Counter(
		"attachment.load.errors",
		metric.WithDescription("Number of load errors"),
	)
	return err
}

// Load opens the attachment with tracing and metrics.
// The span ends when the returned reader is closed.
func (l *Loader) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("attachment.uri", uri),
		attribute.String("service.name", l.opts.serviceName),
	}

	var span trace.Span
	if l.tracer != nil {
		ctx, span = l.tracer.Start(ctx, "attachment.load",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()
	rc, err := l.backend.Load(ctx, uri)

	if l.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		l.loadLatency.Record(ctx, time.Since(start).Seconds(), metricAttrs)
		l.loadCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			l.loadErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		ReadCloser: rc,
		span:       span,
		loader:     l,
		ctx:        ctx,
		attrs:      attrs,
	}, nil
}

// instrumentedReader counts bytes and finishes telemetry on Close.
type instrumentedReader struct {
	io.ReadCloser
	span   trace.Span
	loader *Loader
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	once   sync.Once
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() {
		if r.loader.opts.metricsEnabled {
			r.loader.loadBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
		}
		if r.span != nil {
			r.span.SetAttributes(attribute.Int64("attachment.bytes", r.bytes))
			if err != nil {
				r.span.RecordError(err)
				r.span.SetStatus(codes.Error, err.Error())
			} else {
				r.span.SetStatus(codes.Ok, "")
			}
			r.span.End()
		}
	})
	return err
}
