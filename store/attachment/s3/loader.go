// Package s3 loads externally stored attachments from AWS S3.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rbaliyan/mailsearch/store"
)

// Loader implements store.AttachmentLoader for s3:// URIs.
type Loader struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Loader implements AttachmentLoader.
var _ store.AttachmentLoader = (*Loader)(nil)

// New creates an S3 loader.
// The context is used for AWS credential loading and configuration.
func New(ctx context.Context, opts ...Option) (*Loader, error) {
	o := &options{
		region: "us-east-1",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("s3: build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return &Loader{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(o.region),
	}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), o.roleARN,
			func(ar *stscreds.AssumeRoleOptions) {
				ar.RoleSessionName = o.roleSessionName
				if o.externalID != "" {
					ar.ExternalID = aws.String(o.externalID)
				}
			})
		optFns = append(optFns, config.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Load returns a reader for the object named by uri.
// Missing objects are reported as store.ErrAttachmentNotFound.
func (l *Loader) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	if bucket != l.bucket || !underPrefix(key, l.prefix) {
		return nil, fmt.Errorf("%w: %s is outside s3://%s/%s", store.ErrInvalidURI, uri, l.bucket, l.prefix)
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", store.ErrAttachmentNotFound, uri)
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}

	l.logger.Debug("loaded attachment from s3", "bucket", bucket, "key", key)
	return out.Body, nil
}

// parseURI splits an s3://bucket/key URI.
func parseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", store.ErrInvalidURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", store.ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// underPrefix reports whether key lies in the prefix "directory". A prefix
// without a trailing slash still ends at a path boundary, so "att" admits
// "att/x" but not "attic/x".
func underPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}
