package otel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/index/memory"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func testOptions() []Option {
	return []Option{
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
		WithBackend("memory"),
	}
}

func TestHandlePassesThrough(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	h, err := New(backend, testOptions()...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := docid.ID("12:1")
	if err := h.UpsertOne(ctx, index.Document{ID: id, Content: json.RawMessage(`{"is_unread":true}`)}); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}
	if err := h.UpsertMany(ctx, []index.PartialUpdate{{ID: id, Content: json.RawMessage(`{"is_unread":false}`)}}); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	got, ok := backend.Get(id)
	if !ok || string(got) != `{"is_unread":false}` {
		t.Errorf("Get = %s, %v", got, ok)
	}

	if err := h.DeleteMany(ctx, []docid.ID{id}); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if err := h.DeleteByScope(ctx, index.MailboxScope("12")); err != nil {
		t.Fatalf("DeleteByScope: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("Len = %d, want 0", backend.Len())
	}
}

func TestHandleReturnsBackendErrors(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	h, err := New(backend, testOptions()...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = h.UpsertOne(ctx, index.Document{ID: "12:1", Content: json.RawMessage(`{}`)})
	if !errors.Is(err, index.ErrClosed) {
		t.Errorf("UpsertOne after Close = %v, want ErrClosed", err)
	}
}

func TestDialerWrapsHandle(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	h, err := NewDialer(backend.Dialer(), testOptions()...).Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, ok := h.(*Handle); !ok {
		t.Fatalf("Dial returned %T, want *Handle", h)
	}

	failing := index.DialerFunc(func(context.Context) (index.Handle, error) {
		return nil, index.ErrNoNodeAvailable
	})
	if _, err := NewDialer(failing, WithDisabled()).Dial(ctx); !errors.Is(err, index.ErrNoNodeAvailable) {
		t.Errorf("Dial error = %v, want ErrNoNodeAvailable", err)
	}
}
