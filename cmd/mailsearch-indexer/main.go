// Command mailsearch-indexer keeps a search index in sync with mailbox
// notifications published on the event bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/mailsearch"
	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/index/elastic"
	"github.com/rbaliyan/mailsearch/index/memory"
	indexmongo "github.com/rbaliyan/mailsearch/index/mongo"
	indexotel "github.com/rbaliyan/mailsearch/index/otel"
	"github.com/rbaliyan/mailsearch/index/postgres"
	"github.com/rbaliyan/mailsearch/resolver"
	"github.com/rbaliyan/mailsearch/store"
	"github.com/rbaliyan/mailsearch/store/attachment/cached"
	"github.com/rbaliyan/mailsearch/store/attachment/gcs"
	attachotel "github.com/rbaliyan/mailsearch/store/attachment/otel"
	"github.com/rbaliyan/mailsearch/store/attachment/s3"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsearch-indexer version %s\n", version)
		os.Exit(0)
	}

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("indexer stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the backends, connects the service and blocks until ctx is done.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("failed to release resource", "error", err)
			}
		}
	}()

	dialer, closer, err := newDialer(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	opts := []mailsearch.Option{
		mailsearch.WithDialer(dialer),
		mailsearch.WithLogger(logger),
		mailsearch.WithServiceName(cfg.ServiceName),
		mailsearch.WithOTel(cfg.OTel),
		mailsearch.WithConnectRetry(cfg.MaxRetries, cfg.MinDelay),
		mailsearch.WithShutdownTimeout(cfg.ShutdownTimeout),
		mailsearch.WithMaxConcurrentEvents(cfg.MaxConcurrency),
		mailsearch.WithIndexAttachments(cfg.IndexAttachments),
	}

	if cfg.IndexAttachments && cfg.Attachments != AttachmentsNone {
		loader, loaderClosers, err := newAttachmentLoader(ctx, cfg, logger)
		if err != nil {
			return err
		}
		closers = append(closers, loaderClosers...)
		opts = append(opts, mailsearch.WithAttachmentLoader(loader))
	}

	if len(cfg.SharedOwners) > 0 {
		opts = append(opts, mailsearch.WithOwnerResolver(resolver.NewStatic(cfg.SharedOwners)))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, client)
		opts = append(opts, mailsearch.WithRedisClient(client))
	}

	svc, err := mailsearch.NewService(opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	logger.Info("starting indexer",
		"version", version,
		"backend", cfg.Backend,
		"attachments", cfg.Attachments,
		"events", eventsMode(cfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Connect(gctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Info("indexer connected")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down indexer")
		return svc.Close(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newDialer builds the index dialer for the configured backend, wrapped
// with telemetry when enabled.
func newDialer(cfg *Config, logger *slog.Logger) (index.Dialer, io.Closer, error) {
	var (
		dialer index.Dialer
		closer io.Closer
	)

	switch cfg.Backend {
	case BackendElastic:
		opts := []elastic.Option{
			elastic.WithAddresses(cfg.ElasticURLs...),
			elastic.WithIndex(cfg.ElasticIndex),
			elastic.WithShards(cfg.Shards),
			elastic.WithReplicas(cfg.Replicas),
			elastic.WithLogger(logger),
		}
		if cfg.ElasticUsername != "" {
			opts = append(opts, elastic.WithBasicAuth(cfg.ElasticUsername, cfg.ElasticPassword))
		}
		dialer = elastic.NewDialer(opts...)

	case BackendMongo:
		client, err := mongo.Connect(mongoopts.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("create mongo client: %w", err)
		}
		closer = closerFunc(func() error { return client.Disconnect(context.Background()) })
		opts := []indexmongo.Option{indexmongo.WithLogger(logger)}
		if cfg.MongoDatabase != "" {
			opts = append(opts, indexmongo.WithDatabase(cfg.MongoDatabase))
		}
		dialer = indexmongo.NewDialer(client, opts...)

	case BackendPostgres:
		db, err := sqlx.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		closer = db
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.PostgresTable != "" {
			opts = append(opts, postgres.WithTable(cfg.PostgresTable))
		}
		dialer = postgres.NewDialer(db, opts...)

	case BackendMemory:
		logger.Warn("using in-memory index; documents are lost on exit")
		dialer = memory.New().Dialer()

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.OTel {
		dialer = indexotel.NewDialer(dialer,
			indexotel.WithServiceName(cfg.ServiceName),
			indexotel.WithBackend(cfg.Backend))
	}
	return dialer, closer, nil
}

// newAttachmentLoader builds the object store loader with a local cache
// in front and telemetry around it.
func newAttachmentLoader(ctx context.Context, cfg *Config, logger *slog.Logger) (store.AttachmentLoader, []io.Closer, error) {
	var (
		backend store.AttachmentLoader
		closers []io.Closer
	)

	switch cfg.Attachments {
	case AttachmentsS3:
		opts := []s3.Option{
			s3.WithBucket(cfg.Bucket),
			s3.WithPrefix(cfg.Prefix),
			s3.WithLogger(logger),
		}
		if cfg.S3Region != "" {
			opts = append(opts, s3.WithRegion(cfg.S3Region))
		}
		if cfg.S3Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.S3Endpoint), s3.WithPathStyle(true))
		}
		if cfg.S3RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(cfg.S3RoleARN, cfg.ServiceName))
		}
		l, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 loader: %w", err)
		}
		backend = l

	case AttachmentsGCS:
		opts := []gcs.Option{
			gcs.WithBucket(cfg.Bucket),
			gcs.WithPrefix(cfg.Prefix),
			gcs.WithLogger(logger),
		}
		if cfg.GCSEndpoint != "" {
			opts = append(opts, gcs.WithEndpoint(cfg.GCSEndpoint))
		}
		if cfg.GCSCredentials != "" {
			opts = append(opts, gcs.WithCredentialsFile(cfg.GCSCredentials))
		}
		l, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs loader: %w", err)
		}
		closers = append(closers, l)
		backend = l

	default:
		return nil, nil, fmt.Errorf("unknown attachment store %q", cfg.Attachments)
	}

	if cfg.CacheDir != "" {
		c, err := cached.New(backend,
			cached.WithCacheDir(cfg.CacheDir),
			cached.WithMaxSize(cfg.CacheMaxSize),
			cached.WithTTL(cfg.CacheTTL),
			cached.WithLogger(logger))
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("create attachment cache: %w", err)
		}
		closers = append(closers, c)
		backend = c
	}

	if cfg.OTel {
		l, err := attachotel.New(backend, attachotel.WithServiceName(cfg.ServiceName))
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("instrument attachment loader: %w", err)
		}
		backend = l
	}
	return backend, closers, nil
}

func eventsMode(cfg *Config) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}
	return "noop"
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
