package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/mailsearch/retry"
)

// Default handle acquisition settings.
const (
	DefaultMaxRetries = 7
	DefaultMinDelay   = 3000 * time.Millisecond
	DefaultJitter     = 0.1
)

// acquireOptions holds handle acquisition configuration.
type acquireOptions struct {
	maxRetries int
	minDelay   time.Duration
	jitter     float64
	logger     *slog.Logger
}

// AcquireOption configures Acquire.
type AcquireOption func(*acquireOptions)

// WithMaxRetries sets how many times dialing is retried after the first attempt.
// Default is 7. Zero disables retries.
func WithMaxRetries(n int) AcquireOption {
	return func(o *acquireOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithMinDelay sets the base delay between attempts.
// Default is 3s.
func WithMinDelay(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		if d > 0 {
			o.minDelay = d
		}
	}
}

// WithJitter sets the proportional jitter applied to each delay.
// Default is 0.1 (+/- 10%).
func WithJitter(j float64) AcquireOption {
	return func(o *acquireOptions) {
		if j >= 0 && j <= 1 {
			o.jitter = j
		}
	}
}

// WithAcquireLogger sets the logger used to report retries.
func WithAcquireLogger(l *slog.Logger) AcquireOption {
	return func(o *acquireOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// RetryConfig returns the retry schedule used by Acquire.
// Only failures recognized by IsNoNodeAvailable are retried.
func RetryConfig(opts ...AcquireOption) retry.Config {
	o := newAcquireOptions(opts...)
	return o.retryConfig()
}

func newAcquireOptions(opts ...AcquireOption) *acquireOptions {
	o := &acquireOptions{
		maxRetries: DefaultMaxRetries,
		minDelay:   DefaultMinDelay,
		jitter:     DefaultJitter,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *acquireOptions) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     o.maxRetries,
		InitialBackoff: o.minDelay,
		MaxBackoff:     o.minDelay,
		Multiplier:     1,
		Jitter:         o.jitter,
		IsRetryable:    IsNoNodeAvailable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			o.logger.Warn("index backend unreachable, retrying",
				"attempt", attempt,
				"max_retries", o.maxRetries,
				"delay", delay,
				"error", err,
			)
		},
	}
}

// Acquire dials the backend until it answers or the retry budget is spent.
//
// Unreachable-node failures are retried with a jittered delay. Once the
// budget is exhausted Acquire returns a *BackendUnavailableError. Any other
// failure is returned immediately, unwrapped from the retry machinery.
func Acquire(ctx context.Context, d Dialer, opts ...AcquireOption) (Handle, error) {
	if d == nil {
		return nil, errors.New("index: dialer is required")
	}
	o := newAcquireOptions(opts...)

	h, err := retry.DoWithResult(ctx, o.retryConfig(), d.Dial)
	if err == nil {
		return h, nil
	}

	var re *retry.RetryError
	if !errors.As(err, &re) {
		return nil, fmt.Errorf("index: acquire handle: %w", err)
	}
	switch {
	case errors.Is(re.Err, retry.ErrMaxRetries):
		return nil, &BackendUnavailableError{Attempts: re.Attempts, Cause: re.Cause}
	case errors.Is(re.Err, retry.ErrContextCanceled):
		return nil, fmt.Errorf("index: acquire handle: %w: %w", ctx.Err(), re.Cause)
	default:
		return nil, fmt.Errorf("index: acquire handle: %w", re.Cause)
	}
}
