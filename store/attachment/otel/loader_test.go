package otel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/mailsearch/store"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type mapLoader map[string]string

func (m mapLoader) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	s, ok := m[uri]
	if !ok {
		return nil, store.ErrAttachmentNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	l, err := New(mapLoader{"s3://b/a": "agenda"},
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rc, err := l.Load(ctx, "s3://b/a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "agenda" {
		t.Errorf("content = %q", b)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if got := rc.(*instrumentedReader).bytes; got != 6 {
		t.Errorf("bytes = %d, want 6", got)
	}

	if _, err := l.Load(ctx, "s3://b/missing"); !errors.Is(err, store.ErrAttachmentNotFound) {
		t.Errorf("error = %v, want ErrAttachmentNotFound", err)
	}
}

func TestLoaderDisabled(t *testing.T) {
	l, err := New(mapLoader{"s3://b/a": "x"}, WithTracing(false), WithMetrics(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rc, err := l.Load(context.Background(), "s3://b/a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = rc.Close()
	_ = rc.Close()
}
