// Package index is the gateway to the search backend.
//
// A [Handle] exposes the four write operations the synchronization
// listener needs. Handles are obtained once at startup through [Acquire],
// which keeps dialing while no backend node is reachable. Backends live in
// subpackages: index/elastic, index/mongo, index/postgres and index/memory.
//
// Write operations are never retried here. Every failure is reported as a
// *WriteError so callers can apply a single containment policy.
package index

import (
	"context"
	"encoding/json"

	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/store"
)

// Document is a full or reduced message projection stored under ID.
type Document struct {
	ID      docid.ID
	Content json.RawMessage
}

// PartialUpdate holds fields merged into an existing document.
// Documents that do not exist are left absent.
type PartialUpdate struct {
	ID      docid.ID
	Content json.RawMessage
}

// ScopeQuery selects every document derived from one mailbox.
type ScopeQuery struct {
	MailboxID store.MailboxID
}

// MailboxScope returns the query selecting the documents of a mailbox.
func MailboxScope(id store.MailboxID) ScopeQuery {
	return ScopeQuery{MailboxID: id}
}

// Matches reports whether a document id belongs to the scope.
func (q ScopeQuery) Matches(id docid.ID) bool {
	m, _, err := docid.Decode(id)
	return err == nil && m == q.MailboxID
}

// Op names a gateway operation.
type Op string

// Gateway operations.
const (
	OpUpsertOne     Op = "upsert_one"
	OpUpsertMany    Op = "upsert_many"
	OpDeleteMany    Op = "delete_many"
	OpDeleteByScope Op = "delete_by_scope"
)

// Handle is a connected backend. It is safe for concurrent use and holds no
// per-call state.
type Handle interface {
	// UpsertOne creates or replaces a document.
	UpsertOne(ctx context.Context, doc Document) error

	// UpsertMany merges partial updates in one round trip.
	// A failure of any item fails the whole batch.
	UpsertMany(ctx context.Context, updates []PartialUpdate) error

	// DeleteMany removes documents by id. Missing ids are not an error.
	DeleteMany(ctx context.Context, ids []docid.ID) error

	// DeleteByScope removes every document matching the query.
	DeleteByScope(ctx context.Context, q ScopeQuery) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Dialer connects to a backend and prepares it for writes.
// Dial must wrap unreachable-node failures with ErrNoNodeAvailable.
type Dialer interface {
	Dial(ctx context.Context) (Handle, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Handle, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Handle, error) { return f(ctx) }

// UpdateIDs returns the ids of updates in order.
func UpdateIDs(updates []PartialUpdate) []docid.ID {
	ids := make([]docid.ID, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	return ids
}
