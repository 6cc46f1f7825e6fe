package store

import (
	"context"
	"io"
)

// AttachmentLoader reads attachment content from blob storage.
// Implementations can support S3, GCS, local filesystem, etc.
type AttachmentLoader interface {
	// Load returns a reader for the attachment content.
	// Caller is responsible for closing the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)
}
