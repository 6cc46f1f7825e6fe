// Package resolver provides OwnerResolver implementations.
package resolver

import (
	"context"
	"slices"

	"github.com/rbaliyan/mailsearch/store"
)

// Static is a map-based OwnerResolver for testing and simple deployments.
// It resolves additional owners of a mailbox from an in-memory map.
// Safe for concurrent use (read-only after creation).
type Static struct {
	owners map[store.MailboxID][]store.Principal
}

// NewStatic creates a Static resolver from a map of mailbox ID to owners.
// The map is copied to prevent external mutation.
func NewStatic(owners map[store.MailboxID][]store.Principal) *Static {
	m := make(map[store.MailboxID][]store.Principal, len(owners))
	for k, v := range owners {
		m[k] = slices.Clone(v)
	}
	return &Static{owners: m}
}

// Owners returns the configured owners of the mailbox.
// Unknown mailboxes have no additional owners.
func (s *Static) Owners(_ context.Context, _ store.Session, mailbox store.Mailbox) ([]store.Principal, error) {
	if mailbox == nil {
		return nil, nil
	}
	return slices.Clone(s.owners[mailbox.ID()]), nil
}
