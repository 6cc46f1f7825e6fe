package mailsearch

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailsearch/content"
	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Concurrency limits
	DefaultMaxConcurrentEvents = 10 // max event handlers running at once per service

	DefaultServiceName = "mailsearch"
)

// options holds service and listener configuration.
type options struct {
	dialer    index.Dialer
	logger    *slog.Logger
	projector Projector
	resolver  OwnerResolver

	plugins []Plugin

	// Projector configuration, used when no projector is set.
	contentOpts []content.Option

	// Handle acquisition
	acquireOpts []index.AcquireOption

	// Concurrency limits
	maxConcurrentEvents int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport transport.Transport   // Event transport (optional, uses noop if nil)
	redisClient    redis.UniversalClient // Redis client for event transport (optional, uses noop if nil)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:              slog.Default(),
		maxConcurrentEvents: DefaultMaxConcurrentEvents,
		shutdownTimeout:     DefaultShutdownTimeout,
		serviceName:         DefaultServiceName,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.projector == nil {
		o.projector = content.NewProjector(o.contentOpts...)
	}
	return o
}

// Option configures the search index service.
type Option func(*options)

// --- Core Options ---

// WithDialer sets the index backend dialer (required for NewService).
func WithDialer(d index.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProjector replaces the default content projector.
// When set, WithIndexAttachments, WithAttachmentLoader and
// WithMaxTextSize have no effect.
func WithProjector(p Projector) Option {
	return func(o *options) {
		if p != nil {
			o.projector = p
		}
	}
}

// WithOwnerResolver sets the resolver for additional mailbox owners.
// The session user is always an owner.
func WithOwnerResolver(r OwnerResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// --- Content Options ---

// WithIndexAttachments enables or disables attachment text in full documents.
// Default is enabled.
func WithIndexAttachments(enabled bool) Option {
	return func(o *options) {
		o.contentOpts = append(o.contentOpts, content.WithIndexAttachments(enabled))
	}
}

// WithAttachmentLoader sets the loader for externally stored attachments.
func WithAttachmentLoader(l store.AttachmentLoader) Option {
	return func(o *options) {
		o.contentOpts = append(o.contentOpts, content.WithAttachmentLoader(l))
	}
}

// WithMaxTextSize caps the text taken from one body part or attachment.
// Default is content.DefaultMaxTextSize.
func WithMaxTextSize(n int64) Option {
	return func(o *options) {
		o.contentOpts = append(o.contentOpts, content.WithMaxTextSize(n))
	}
}

// --- Connection Options ---

// WithConnectRetry sets the startup retry budget for reaching the backend.
// maxRetries counts retries after the first attempt. Defaults are
// index.DefaultMaxRetries and index.DefaultMinDelay.
func WithConnectRetry(maxRetries int, minDelay time.Duration) Option {
	return func(o *options) {
		o.acquireOpts = append(o.acquireOpts,
			index.WithMaxRetries(maxRetries),
			index.WithMinDelay(minDelay),
		)
	}
}

// WithAcquireOptions passes raw options to index.Acquire.
func WithAcquireOptions(opts ...index.AcquireOption) Option {
	return func(o *options) {
		o.acquireOpts = append(o.acquireOpts, opts...)
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentEvents limits how many events are handled at once.
// Default is 10.
func WithMaxConcurrentEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentEvents = n
		}
	}
}

// WithShutdownTimeout sets how long Close waits for in-flight events.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all listener operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and as the
// event name prefix. Publishers must use the same name.
// Default is "mailsearch".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// --- Event Options ---

// WithEventTransport sets a custom event transport.
// Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		o.eventTransport = t
	}
}

// WithRedisClient delivers mailbox events over Redis Streams.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		o.redisClient = c
	}
}
