package content

import (
	"github.com/rbaliyan/mailsearch/store"
)

// Default projector settings.
const (
	// DefaultMaxTextSize caps the text read from one body part or attachment.
	DefaultMaxTextSize = 4 * 1024 * 1024 // 4 MB
)

// options holds projector configuration.
type options struct {
	registry         *Registry
	loader           store.AttachmentLoader
	indexAttachments bool
	maxTextSize      int64
}

// Option configures a Projector.
type Option func(*options)

// WithRegistry sets the extractor registry.
// Default is DefaultRegistry().
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithAttachmentLoader sets the loader used for attachments stored outside
// the message. Without a loader such attachments contribute metadata only.
func WithAttachmentLoader(l store.AttachmentLoader) Option {
	return func(o *options) {
		if l != nil {
			o.loader = l
		}
	}
}

// WithIndexAttachments enables or disables attachment text in the full tier.
// Default is enabled.
func WithIndexAttachments(enabled bool) Option {
	return func(o *options) {
		o.indexAttachments = enabled
	}
}

// WithMaxTextSize caps the bytes read from one body part or attachment.
// Default is 4 MB.
func WithMaxTextSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTextSize = n
		}
	}
}
