package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/index/elastic"
	"github.com/rbaliyan/mailsearch/store"
	"github.com/rbaliyan/mailsearch/store/attachment/cached"
)

// Index backends.
const (
	BackendElastic  = "elastic"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Attachment loaders.
const (
	AttachmentsNone = ""
	AttachmentsS3   = "s3"
	AttachmentsGCS  = "gcs"
)

// Config holds the indexer configuration.
type Config struct {
	ServiceName string
	LogLevel    string
	LogFormat   string
	OTel        bool

	// Index backend
	Backend         string
	ElasticURLs     []string
	ElasticUsername string
	ElasticPassword string
	ElasticIndex    string
	Shards          int
	Replicas        int
	MongoURI        string
	MongoDatabase   string
	PostgresDSN     string
	PostgresTable   string

	// Startup
	MaxRetries      int
	MinDelay        time.Duration
	ShutdownTimeout time.Duration

	// Events
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Content
	IndexAttachments bool
	SharedOwners     map[store.MailboxID][]store.Principal

	// Attachments
	Attachments    string
	Bucket         string
	Prefix         string
	S3Region       string
	S3Endpoint     string
	S3RoleARN      string
	GCSEndpoint    string
	GCSCredentials string
	CacheDir       string
	CacheMaxSize   int64
	CacheTTL       time.Duration
	MaxConcurrency int
}

// LoadConfig loads configuration from MAILSEARCH_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "mailsearch"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		Backend:         getEnv("BACKEND", BackendElastic),
		ElasticURLs:     getEnvList("ELASTIC_URLS", elastic.DefaultAddress),
		ElasticUsername: getEnv("ELASTIC_USERNAME", ""),
		ElasticPassword: getEnv("ELASTIC_PASSWORD", ""),
		ElasticIndex:    getEnv("ELASTIC_INDEX", elastic.DefaultIndex),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", ""),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		PostgresTable:   getEnv("POSTGRES_TABLE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Attachments:    getEnv("ATTACHMENTS", AttachmentsNone),
		Bucket:         getEnv("ATTACHMENT_BUCKET", ""),
		Prefix:         getEnv("ATTACHMENT_PREFIX", ""),
		S3Region:       getEnv("S3_REGION", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3RoleARN:      getEnv("S3_ROLE_ARN", ""),
		GCSEndpoint:    getEnv("GCS_ENDPOINT", ""),
		GCSCredentials: getEnv("GCS_CREDENTIALS_FILE", ""),
		CacheDir:       getEnv("ATTACHMENT_CACHE_DIR", ""),
	}

	var errs []error
	var err error
	if cfg.OTel, err = getEnvBool("OTEL", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.IndexAttachments, err = getEnvBool("INDEX_ATTACHMENTS", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Shards, err = getEnvInt("ELASTIC_SHARDS", elastic.DefaultShards); err != nil {
		errs = append(errs, err)
	}
	if cfg.Replicas, err = getEnvInt("ELASTIC_REPLICAS", elastic.DefaultReplicas); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxRetries, err = getEnvInt("MAX_RETRIES", index.DefaultMaxRetries); err != nil {
		errs = append(errs, err)
	}
	if cfg.MinDelay, err = getEnvDuration("MIN_DELAY", index.DefaultMinDelay); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxConcurrency, err = getEnvInt("MAX_CONCURRENT_EVENTS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.SharedOwners, err = parseOwners(getEnv("SHARED_OWNERS", "")); err != nil {
		errs = append(errs, err)
	}
	var maxSize int
	if maxSize, err = getEnvInt("ATTACHMENT_CACHE_MAX_SIZE", cached.DefaultMaxSize); err != nil {
		errs = append(errs, err)
	}
	cfg.CacheMaxSize = int64(maxSize)
	if cfg.CacheTTL, err = getEnvDuration("ATTACHMENT_CACHE_TTL", cached.DefaultTTL); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendElastic:
		if len(c.ElasticURLs) == 0 {
			errs = append(errs, errors.New("MAILSEARCH_ELASTIC_URLS is required for the elastic backend"))
		}
		if c.Shards < 1 {
			errs = append(errs, errors.New("MAILSEARCH_ELASTIC_SHARDS must be at least 1"))
		}
		if c.Replicas < 0 {
			errs = append(errs, errors.New("MAILSEARCH_ELASTIC_REPLICAS must not be negative"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MAILSEARCH_MONGO_URI is required for the mongo backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("MAILSEARCH_POSTGRES_DSN is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	switch c.Attachments {
	case AttachmentsNone:
	case AttachmentsS3, AttachmentsGCS:
		if c.Bucket == "" {
			errs = append(errs, fmt.Errorf("MAILSEARCH_ATTACHMENT_BUCKET is required for %s attachments", c.Attachments))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown attachment store %q", c.Attachments))
	}

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAILSEARCH_MAX_RETRIES must not be negative"))
	}
	if c.MinDelay <= 0 {
		errs = append(errs, errors.New("MAILSEARCH_MIN_DELAY must be positive"))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, errors.New("MAILSEARCH_MAX_CONCURRENT_EVENTS must be at least 1"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid MAILSEARCH_LOG_LEVEL %q", s)
	}
	return level, nil
}

// parseOwners parses "12=bob,carol;40=dave" into mailbox owners.
func parseOwners(s string) (map[store.MailboxID][]store.Principal, error) {
	if s == "" {
		return nil, nil
	}
	owners := make(map[store.MailboxID][]store.Principal)
	for entry := range strings.SplitSeq(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, users, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid %sSHARED_OWNERS entry %q", envPrefix, entry)
		}
		for u := range strings.SplitSeq(users, ",") {
			if u = strings.TrimSpace(u); u != "" {
				owners[store.MailboxID(id)] = append(owners[store.MailboxID(id)], store.Principal(u))
			}
		}
	}
	return owners, nil
}

const envPrefix = "MAILSEARCH_"

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for part := range strings.SplitSeq(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are milliseconds.
		ms, intErr := strconv.Atoi(v)
		if intErr != nil {
			return 0, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	return d, nil
}
