// Package gcs loads externally stored attachments from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/mailsearch/store"
	"google.golang.org/api/option"
)

const readOnlyScope = "https://www.googleapis.com/auth/devstorage.read_only"

// Loader implements store.AttachmentLoader for gs:// URIs.
type Loader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Loader implements AttachmentLoader.
var _ store.AttachmentLoader = (*Loader)(nil)

// New creates a GCS loader.
func New(ctx context.Context, opts ...Option) (*Loader, error) {
	o := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("gcs: build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return &Loader{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{readOnlyScope},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{readOnlyScope},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.anonymous:
		opts = append(opts, option.WithoutAuthentication())
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Load returns a reader for the object named by uri.
// Missing objects are reported as store.ErrAttachmentNotFound.
func (l *Loader) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, name, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	if bucket != l.bucket || !underPrefix(name, l.prefix) {
		return nil, fmt.Errorf("%w: %s is outside gs://%s/%s", store.ErrInvalidURI, uri, l.bucket, l.prefix)
	}

	r, err := l.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrAttachmentNotFound, uri)
		}
		return nil, fmt.Errorf("gcs: open reader: %w", err)
	}

	l.logger.Debug("loaded attachment from gcs", "bucket", bucket, "name", name)
	return r, nil
}

// Close closes the GCS client.
func (l *Loader) Close() error {
	return l.client.Close()
}

// parseURI splits a gs://bucket/object URI.
func parseURI(uri string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", store.ErrInvalidURI, uri)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s", store.ErrInvalidURI, uri)
	}
	return bucket, name, nil
}

// underPrefix reports whether name lies in the prefix "directory". A prefix
// without a trailing slash still ends at a path boundary, so "att" admits
// "att/x" but not "attic/x".
func underPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(name, strings.TrimSuffix(prefix, "/")+"/")
}
