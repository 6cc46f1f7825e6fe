package gcs

import (
	"log/slog"
)

// options holds GCS loader configuration.
type options struct {
	bucket string
	prefix string

	// Custom endpoint for emulators.
	endpoint string

	// Credential sources, checked in this order.
	credentialsJSON []byte
	credentialsFile string
	anonymous       bool

	logger *slog.Logger
}

// Option configures the GCS loader.
type Option func(*options)

// WithBucket sets the bucket attachments are read from (required).
// URIs naming any other bucket are rejected.
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix restricts loads to object names under the prefix directory.
// Default is no restriction.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEndpoint sets a custom GCS endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON sets service account credentials from JSON bytes.
func WithCredentialsJSON(data []byte) Option {
	return func(o *options) {
		o.credentialsJSON = data
	}
}

// WithCredentialsFile sets the path to a service account JSON key file.
// Without credential options Application Default Credentials are used.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithoutAuthentication reads public buckets or emulators without credentials.
func WithoutAuthentication() Option {
	return func(o *options) {
		o.anonymous = true
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
