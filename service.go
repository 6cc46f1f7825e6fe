package mailsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailsearch/index"
	"golang.org/x/sync/semaphore"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service owns the index handle and feeds mailbox events to a Listener.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect acquires the index handle, retrying while no backend node
	// is reachable, then subscribes to mailbox events. It returns an error
	// matching ErrBackendUnavailable when the retry budget is spent.
	Connect(ctx context.Context) error
	// Close waits for in-flight events, then closes the bus and the handle.
	Close(ctx context.Context) error
	// Listener returns the listener bound to the acquired handle, for
	// stores that notify synchronously instead of through events.
	Listener() (Listener, error)
	// Events returns per-service event instances. Valid after Connect.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	eventSem *semaphore.Weighted // Limits concurrent event handlers
	eventBus *event.Bus
	events   *ServiceEvents
	handle   index.Handle
	listener *listener
}

// NewService creates a new search index service.
// Call Connect() to acquire the index handle.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.dialer == nil {
		return nil, ErrDialerRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		logger:   o.logger,
		opts:     o,
		plugins:  newPluginRegistry(o.logger, o.plugins),
		otel:     otelInstr,
		eventSem: semaphore.NewWeighted(int64(o.maxConcurrentEvents)),
	}, nil
}

// Events returns per-service event instances.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Listener returns the listener bound to the acquired handle.
func (s *service) Listener() (Listener, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	return s.listener, nil
}

// Connect acquires the index handle and subscribes to mailbox events.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	acquireOpts := append([]index.AcquireOption{index.WithAcquireLogger(s.logger)}, s.opts.acquireOpts...)
	h, err := index.Acquire(ctx, s.opts.dialer, acquireOpts...)
	if err != nil {
		if errors.Is(err, index.ErrBackendUnavailable) {
			s.logger.Error("index backend unavailable, giving up", "error", err)
			return fmt.Errorf("mailsearch: connect: %w", err)
		}
		return fmt.Errorf("acquire index handle: %w", err)
	}
	s.handle = h
	s.listener = newListener(h, s.opts, s.otel, s.plugins)

	if err := s.initEventBus(ctx); err != nil {
		_ = h.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		_ = s.eventBus.Close(ctx)
		_ = h.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("search index service connected")
	return nil
}

// initEventBus creates the bus, registers the events and subscribes the
// listener to them.
func (s *service) initEventBus(ctx context.Context) error {
	busName := s.opts.serviceName + "-" + uuid.NewString()

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(s.opts.serviceName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		_ = bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	s.eventBus = bus
	s.events = events

	if err := s.subscribeServiceEvents(ctx); err != nil {
		_ = bus.Close(ctx)
		return err
	}
	return nil
}

// dispatch runs fn under the event semaphore. Events arriving after Close
// are dropped.
func (s *service) dispatch(ctx context.Context, eventName string, fn func(context.Context, Listener)) {
	if err := s.eventSem.Acquire(ctx, 1); err != nil {
		s.logger.Warn("event dropped", "event", eventName, "error", err)
		s.otel.recordDropped(ctx, eventName)
		return
	}
	defer s.eventSem.Release(1)

	if atomic.LoadInt32(&s.state) == stateDisconnected {
		s.logger.Warn("event dropped, service not connected", "event", eventName)
		s.otel.recordDropped(ctx, eventName)
		return
	}
	fn(ctx, s.listener)
}

// Close waits for in-flight events and releases the bus and the handle.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// After the state change no new handler runs the listener. Acquiring
	// every slot waits for the ones already running.
	s.logger.Info("waiting for in-flight events to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	n := int64(s.opts.maxConcurrentEvents)
	if err := s.eventSem.Acquire(shutdownCtx, n); err != nil {
		s.logger.Warn("timeout waiting for in-flight events, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.eventSem.Release(n)
		s.logger.Info("all in-flight events completed")
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.handle.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close index handle: %w", err))
	}

	return errors.Join(errs...)
}
