// Package content projects mailbox messages into search documents.
//
// A [Projector] turns a message and its owning principals into the JSON
// payload stored in the index. It offers two tiers:
//
//   - Full: headers, body text and text extracted from attachments.
//   - Reduced: the same document without any attachment-derived text.
//
// Attachment text extraction is the step most likely to fail, so callers
// try Full first and fall back to Reduced on a [ProjectionError].
// [Projector.PartialFlags] builds the merge payload for flag changes.
//
// # Extractors
//
// Attachment text is produced by an [Extractor] registered for the part's
// MIME type. Types without an extractor contribute metadata only
// (filename, content type, size).
//
//	reg := content.DefaultRegistry()
//	reg.Register(myPDFExtractor)
//	p := content.NewProjector(content.WithRegistry(reg))
package content

import (
	"errors"
	"io"
	"mime"
	"slices"
	"strings"
	"sync"
)

// Sentinel errors.
var (
	// ErrProjection is matched by every ProjectionError.
	ErrProjection = errors.New("content: projection failed")

	// ErrInvalidText is returned when extracted text is not valid UTF-8.
	ErrInvalidText = errors.New("content: extracted text is not valid UTF-8")
)

// Extractor converts an attachment body into indexable text.
//
// Implementations handle a specific content type. The reader is already
// transfer-decoded and limited to the projector's maximum text size.
type Extractor interface {
	// ContentType returns the MIME type this extractor handles.
	ContentType() string

	// Extract returns the plain text of the attachment.
	Extract(r io.Reader) (string, error)
}

// Registry maps content types to extractors.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates a registry pre-loaded with the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{
		extractors: make(map[string]Extractor, len(extractors)),
	}
	for _, e := range extractors {
		r.extractors[normalizeType(e.ContentType())] = e
	}
	return r
}

// Register adds an extractor to the registry. If an extractor for the same
// content type already exists, it is replaced.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	r.extractors[normalizeType(e.ContentType())] = e
	r.mu.Unlock()
}

// Lookup returns the extractor for the given content type.
// Parameters such as charset are ignored.
func (r *Registry) Lookup(contentType string) (Extractor, bool) {
	r.mu.RLock()
	e, ok := r.extractors[normalizeType(contentType)]
	r.mu.RUnlock()
	return e, ok
}

// ContentTypes returns the registered content types in sorted order.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.extractors))
	for ct := range r.extractors {
		out = append(out, ct)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func normalizeType(contentType string) string {
	if t, _, err := mime.ParseMediaType(contentType); err == nil {
		return t
	}
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
