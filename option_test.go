package mailsearch

import (
	"log/slog"
	"testing"
	"time"

	"github.com/rbaliyan/mailsearch/content"
	"github.com/rbaliyan/mailsearch/index/memory"
)

func TestNewOptions(t *testing.T) {
	t.Run("returns defaults without options", func(t *testing.T) {
		opts := newOptions()

		if opts.maxConcurrentEvents != DefaultMaxConcurrentEvents {
			t.Errorf("expected maxConcurrentEvents %v, got %v", DefaultMaxConcurrentEvents, opts.maxConcurrentEvents)
		}
		if opts.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected shutdownTimeout %v, got %v", DefaultShutdownTimeout, opts.shutdownTimeout)
		}
		if opts.serviceName != DefaultServiceName {
			t.Errorf("expected serviceName %q, got %q", DefaultServiceName, opts.serviceName)
		}
		if _, ok := opts.projector.(*content.Projector); !ok {
			t.Errorf("expected default content projector, got %T", opts.projector)
		}
		if opts.tracingEnabled || opts.metricsEnabled {
			t.Error("expected telemetry to be disabled by default")
		}
	})

	t.Run("custom projector wins", func(t *testing.T) {
		p := &fakeProjector{}
		opts := newOptions(WithIndexAttachments(false), WithProjector(p))
		if opts.projector != p {
			t.Errorf("expected custom projector, got %T", opts.projector)
		}
	})

	t.Run("content options are collected", func(t *testing.T) {
		opts := newOptions(WithIndexAttachments(false), WithMaxTextSize(1024))
		if len(opts.contentOpts) != 2 {
			t.Errorf("expected 2 content options, got %d", len(opts.contentOpts))
		}
	})
}

func TestWithLogger(t *testing.T) {
	t.Run("sets custom logger", func(t *testing.T) {
		customLogger := slog.New(slog.DiscardHandler)
		opts := newOptions(WithLogger(customLogger))
		if opts.logger != customLogger {
			t.Error("expected custom logger to be set")
		}
	})

	t.Run("ignores nil logger", func(t *testing.T) {
		opts := newOptions(WithLogger(nil))
		if opts.logger == nil {
			t.Error("expected default logger to be kept")
		}
	})
}

func TestWithShutdownTimeout(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"valid", 5 * time.Second, 5 * time.Second},
		{"minimum", MinShutdownTimeout, MinShutdownTimeout},
		{"below minimum ignored", 10 * time.Millisecond, DefaultShutdownTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newOptions(WithShutdownTimeout(tt.in))
			if opts.shutdownTimeout != tt.want {
				t.Errorf("expected %v, got %v", tt.want, opts.shutdownTimeout)
			}
		})
	}
}

func TestWithMaxConcurrentEvents(t *testing.T) {
	if got := newOptions(WithMaxConcurrentEvents(3)).maxConcurrentEvents; got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := newOptions(WithMaxConcurrentEvents(0)).maxConcurrentEvents; got != DefaultMaxConcurrentEvents {
		t.Errorf("expected default for zero, got %d", got)
	}
}

func TestWithConnectRetry(t *testing.T) {
	opts := newOptions(WithConnectRetry(2, time.Second), WithDialer(memory.New().Dialer()))
	if len(opts.acquireOpts) != 2 {
		t.Errorf("expected 2 acquire options, got %d", len(opts.acquireOpts))
	}
	if opts.dialer == nil {
		t.Error("expected dialer to be set")
	}
}

func TestWithServiceName(t *testing.T) {
	if got := newOptions(WithServiceName("indexer")).serviceName; got != "indexer" {
		t.Errorf("expected indexer, got %q", got)
	}
	if got := newOptions(WithServiceName("")).serviceName; got != DefaultServiceName {
		t.Errorf("expected default for empty name, got %q", got)
	}
}
