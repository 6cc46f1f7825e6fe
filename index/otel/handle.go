// Package otel provides OpenTelemetry instrumentation for index handles.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailsearch/index/otel"
)

// Handle wraps an index.Handle with OpenTelemetry instrumentation.
type Handle struct {
	backend index.Handle
	opts    *options

	tracer trace.Tracer

	writeLatency   metric.Float64Histogram
	writeCount     metric.Int64Counter
	writeDocuments metric.Int64Counter
	writeErrors    metric.Int64Counter
}

// Ensure Handle implements index.Handle.
var _ index.Handle = (*Handle)(nil)

// New creates an instrumented handle wrapping backend.
func New(backend index.Handle, opts ...Option) (*Handle, error) {
	return newHandle(backend, newOptions(opts...))
}

func newHandle(backend index.Handle, o *options) (*Handle, error) {
	h := &Handle{
		backend: backend,
		opts:    o,
	}
	if o.tracingEnabled {
		h.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := h.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return h, nil
}

func (h *Handle) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	h.writeLatency, err = meter.Float64Histogram(
		"index.write.duration",
		metric.WithDescription("Duration of index write operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	h.writeCount, err = meter.Int64Counter(
		"index.write.count",
		metric.WithDescription("Number of index write operations"),
	)
	if err != nil {
		return err
	}

	h.writeDocuments, err = meter.Int64Counter(
		"index.write.documents",
		metric.WithDescription("Number of documents addressed by write operations"),
	)
	if err != nil {
		return err
	}

	h.writeErrors, err = meter.Int64Counter(
		"index.write.errors",
		metric.WithDescription("Number of failed index write operations"),
	)
	return err
}

// UpsertOne creates or replaces a document with tracing and metrics.
func (h *Handle) UpsertOne(ctx context.Context, doc index.Document) error {
	ctx, end := h.start(ctx, index.OpUpsertOne, 1,
		attribute.String("index.document_id", string(doc.ID)))
	err := h.backend.UpsertOne(ctx, doc)
	end(err)
	return err
}

// UpsertMany merges partial documents with tracing and metrics.
func (h *Handle) UpsertMany(ctx context.Context, updates []index.PartialUpdate) error {
	ctx, end := h.start(ctx, index.OpUpsertMany, len(updates))
	err := h.backend.UpsertMany(ctx, updates)
	end(err)
	return err
}

// DeleteMany removes documents with tracing and metrics.
func (h *Handle) DeleteMany(ctx context.Context, ids []docid.ID) error {
	ctx, end := h.start(ctx, index.OpDeleteMany, len(ids))
	err := h.backend.DeleteMany(ctx, ids)
	end(err)
	return err
}

// DeleteByScope removes a mailbox's documents with tracing and metrics.
func (h *Handle) DeleteByScope(ctx context.Context, q index.ScopeQuery) error {
	ctx, end := h.start(ctx, index.OpDeleteByScope, 0,
		attribute.String("mailbox.id", q.MailboxID.String()))
	err := h.backend.DeleteByScope(ctx, q)
	end(err)
	return err
}

// Close closes the wrapped handle.
func (h *Handle) Close(ctx context.Context) error {
	return h.backend.Close(ctx)
}

// start opens a span for op and returns a function that records the outcome.
func (h *Handle) start(ctx context.Context, op index.Op, docs int, extra ...attribute.KeyValue) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("index.op", string(op)),
		attribute.String("service.name", h.opts.serviceName),
	}
	if h.opts.backend != "" {
		attrs = append(attrs, attribute.String("index.backend", h.opts.backend))
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "index."+string(op),
			trace.WithAttributes(append(attrs, extra...)...),
			trace.WithAttributes(attribute.Int("index.documents", docs)),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}
	start := time.Now()

	return ctx, func(err error) {
		if h.opts.metricsEnabled {
			metricAttrs := metric.WithAttributes(attrs...)
			h.writeLatency.Record(ctx, time.Since(start).Seconds(), metricAttrs)
			h.writeCount.Add(ctx, 1, metricAttrs)
			h.writeDocuments.Add(ctx, int64(docs), metricAttrs)
			if err != nil {
				h.writeErrors.Add(ctx, 1, metricAttrs)
			}
		}
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
}

// Dialer wraps every handle produced by a dialer with instrumentation.
type Dialer struct {
	backend index.Dialer
	opts    *options
	tracer  trace.Tracer
}

// Ensure Dialer implements index.Dialer.
var _ index.Dialer = (*Dialer)(nil)

// NewDialer creates an instrumented dialer.
func NewDialer(backend index.Dialer, opts ...Option) *Dialer {
	o := newOptions(opts...)
	d := &Dialer{backend: backend, opts: o}
	if o.tracingEnabled {
		d.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	return d
}

// Dial dials the backend in a span and instruments the resulting handle.
func (d *Dialer) Dial(ctx context.Context) (index.Handle, error) {
	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "index.dial",
			trace.WithAttributes(attribute.String("service.name", d.opts.serviceName)),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	h, err := d.backend.Dial(ctx)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	wrapped, err := newHandle(h, d.opts)
	if err != nil {
		_ = h.Close(ctx)
		return nil, err
	}
	return wrapped, nil
}
