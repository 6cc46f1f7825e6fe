package mailsearch

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for service extensions.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// FailureHook is notified of every failure the listener contains.
// Use it to queue messages for re-indexing. Hooks run on the caller's
// goroutine; panics are recovered and logged.
type FailureHook interface {
	Plugin
	OnFailure(ctx context.Context, f *Failure)
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all     []Plugin
	failure []FailureHook
	logger  *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger, plugins []Plugin) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &pluginRegistry{logger: logger}
	for _, p := range plugins {
		r.register(p)
	}
	return r
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(FailureHook); ok {
		r.failure = append(r.failure, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// onFailure runs every failure hook, recovering panics.
func (r *pluginRegistry) onFailure(ctx context.Context, f *Failure) {
	for _, h := range r.failure {
		r.safeOnFailure(ctx, h, f)
	}
}

func (r *pluginRegistry) safeOnFailure(ctx context.Context, h FailureHook, f *Failure) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in failure hook",
				"plugin", h.Name(),
				"op", f.Op,
				"mailbox_id", f.MailboxID,
				"panic", rec,
			)
		}
	}()
	h.OnFailure(ctx, f)
}
