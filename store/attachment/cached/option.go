package cached

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMaxSize = 1 << 30 // 1GB
	DefaultTTL     = 24 * time.Hour
)

// options holds cached loader configuration.
type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the cached loader.
type Option func(*options)

// WithCacheDir sets the parent directory for cached files.
// Default is the system temp directory.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMaxSize sets the maximum cache size in bytes.
// Default is 1GB. When the cache is full new files are served but not
// cached until old entries expire.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets the time-to-live for cached files.
// Default is 24 hours. Zero keeps entries until Clear.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
