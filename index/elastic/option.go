package elastic

import (
	"log/slog"
	"net/http"
	"time"
)

// Default configuration values.
const (
	DefaultAddress  = "http://localhost:9200"
	DefaultIndex    = "mailbox"
	DefaultShards   = 5
	DefaultReplicas = 1
	DefaultTimeout  = 10 * time.Second
)

// options holds Elasticsearch backend configuration.
type options struct {
	addresses []string
	username  string
	password  string
	index     string
	shards    int
	replicas  int
	refresh   string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		addresses: []string{DefaultAddress},
		index:     DefaultIndex,
		shards:    DefaultShards,
		replicas:  DefaultReplicas,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the Elasticsearch backend.
type Option func(*options)

// WithAddresses sets the cluster node URLs.
func WithAddresses(addrs ...string) Option {
	return func(o *options) {
		if len(addrs) > 0 {
			o.addresses = addrs
		}
	}
}

// WithBasicAuth sets HTTP basic authentication credentials.
func WithBasicAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithIndex sets the index name.
func WithIndex(name string) Option {
	return func(o *options) {
		if name != "" {
			o.index = name
		}
	}
}

// WithShards sets the number of primary shards used when creating the index.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithReplicas sets the number of replicas used when creating the index.
func WithReplicas(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.replicas = n
		}
	}
}

// WithRefresh sets the refresh parameter sent with writes
// ("true", "false" or "wait_for"). Empty leaves the cluster default.
func WithRefresh(policy string) Option {
	return func(o *options) {
		o.refresh = policy
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTransport sets the HTTP transport used by the client.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
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
