package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/store"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendElastic {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendElastic)
	}
	if diff := cmp.Diff([]string{"http://localhost:9200"}, cfg.ElasticURLs); diff != "" {
		t.Errorf("ElasticURLs mismatch (-want +got):\n%s", diff)
	}
	if cfg.MaxRetries != index.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, index.DefaultMaxRetries)
	}
	if cfg.MinDelay != 3*time.Second {
		t.Errorf("MinDelay = %v, want 3s", cfg.MinDelay)
	}
	if !cfg.IndexAttachments {
		t.Error("expected attachment indexing to be on by default")
	}
	if cfg.OTel {
		t.Error("expected telemetry to be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MAILSEARCH_BACKEND", "postgres")
	t.Setenv("MAILSEARCH_POSTGRES_DSN", "postgres://localhost/mail")
	t.Setenv("MAILSEARCH_ELASTIC_URLS", "http://es1:9200, http://es2:9200,")
	t.Setenv("MAILSEARCH_MAX_RETRIES", "3")
	t.Setenv("MAILSEARCH_MIN_DELAY", "500")
	t.Setenv("MAILSEARCH_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("MAILSEARCH_INDEX_ATTACHMENTS", "false")
	t.Setenv("MAILSEARCH_OTEL", "true")
	t.Setenv("MAILSEARCH_SHARED_OWNERS", "12=bob, carol;40=dave")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendPostgres || cfg.PostgresDSN != "postgres://localhost/mail" {
		t.Errorf("backend = %q dsn = %q", cfg.Backend, cfg.PostgresDSN)
	}
	if diff := cmp.Diff([]string{"http://es1:9200", "http://es2:9200"}, cfg.ElasticURLs); diff != "" {
		t.Errorf("ElasticURLs mismatch (-want +got):\n%s", diff)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.MinDelay != 500*time.Millisecond {
		t.Errorf("MinDelay = %v, want 500ms", cfg.MinDelay)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.IndexAttachments || !cfg.OTel {
		t.Errorf("IndexAttachments = %v, OTel = %v", cfg.IndexAttachments, cfg.OTel)
	}
	wantOwners := map[store.MailboxID][]store.Principal{
		"12": {"bob", "carol"},
		"40": {"dave"},
	}
	if diff := cmp.Diff(wantOwners, cfg.SharedOwners); diff != "" {
		t.Errorf("SharedOwners mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	t.Setenv("MAILSEARCH_MAX_RETRIES", "many")
	t.Setenv("MAILSEARCH_OTEL", "perhaps")
	t.Setenv("MAILSEARCH_SHARED_OWNERS", "=bob")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"MAILSEARCH_MAX_RETRIES", "MAILSEARCH_OTEL", "MAILSEARCH_SHARED_OWNERS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend:        BackendMemory,
			LogLevel:       "info",
			LogFormat:      "json",
			MinDelay:       time.Second,
			MaxConcurrency: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory backend", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "solr" }, `unknown backend "solr"`},
		{"mongo without uri", func(c *Config) { c.Backend = BackendMongo }, "MAILSEARCH_MONGO_URI"},
		{"postgres without dsn", func(c *Config) { c.Backend = BackendPostgres }, "MAILSEARCH_POSTGRES_DSN"},
		{"elastic without urls", func(c *Config) { c.Backend = BackendElastic; c.Shards = 1 }, "MAILSEARCH_ELASTIC_URLS"},
		{"elastic zero shards", func(c *Config) { c.Backend = BackendElastic; c.ElasticURLs = []string{"http://es:9200"} }, "MAILSEARCH_ELASTIC_SHARDS"},
		{"s3 without bucket", func(c *Config) { c.Attachments = AttachmentsS3 }, "MAILSEARCH_ATTACHMENT_BUCKET"},
		{"unknown attachment store", func(c *Config) { c.Attachments = "ftp" }, `unknown attachment store "ftp"`},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "MAILSEARCH_MAX_RETRIES"},
		{"zero delay", func(c *Config) { c.MinDelay = 0 }, "MAILSEARCH_MIN_DELAY"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "MAILSEARCH_LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, `unknown log format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewDialer(t *testing.T) {
	cfg := &Config{Backend: BackendMemory, OTel: true, ServiceName: "test"}
	d, closer, err := newDialer(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newDialer: %v", err)
	}
	if closer != nil {
		t.Error("memory backend should have nothing to close")
	}
	if d == nil {
		t.Fatal("expected a dialer")
	}
}
