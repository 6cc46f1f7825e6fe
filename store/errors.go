package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrAttachmentNotFound is returned by loaders when the URI does not resolve.
	ErrAttachmentNotFound = errors.New("store: attachment not found")

	// ErrInvalidURI is returned by loaders for URIs they cannot parse.
	ErrInvalidURI = errors.New("store: invalid attachment uri")
)
