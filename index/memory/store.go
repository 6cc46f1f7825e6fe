// Package memory provides an in-memory index backend for testing.
// This backend is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
)

// Store implements index.Handle with in-memory documents.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu     sync.RWMutex
	docs   map[docid.ID]map[string]json.RawMessage
	closed int32
}

// Ensure Store implements index.Handle.
var _ index.Handle = (*Store)(nil)

// New creates a new in-memory index.
func New() *Store {
	return &Store{docs: make(map[docid.ID]map[string]json.RawMessage)}
}

// Dialer returns a dialer that always hands out s.
func (s *Store) Dialer() index.Dialer {
	return index.DialerFunc(func(context.Context) (index.Handle, error) {
		atomic.StoreInt32(&s.closed, 0)
		return s, nil
	})
}

// UpsertOne creates or replaces a document.
func (s *Store) UpsertOne(_ context.Context, doc index.Document) error {
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertOne, []docid.ID{doc.ID}, err)
	}
	fields, err := decodeObject(doc.Content)
	if err != nil {
		return index.NewWriteError(index.OpUpsertOne, []docid.ID{doc.ID}, err)
	}

	s.mu.Lock()
	s.docs[doc.ID] = fields
	s.mu.Unlock()
	return nil
}

// UpsertMany merges partial updates into existing documents.
// The batch is validated before any document changes, so it applies as a whole or not at all.
// Updates for absent documents are skipped.
func (s *Store) UpsertMany(_ context.Context, updates []index.PartialUpdate) error {
	ids := index.UpdateIDs(updates)
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, err)
	}

	decoded := make([]map[string]json.RawMessage, len(updates))
	for i, u := range updates {
		fields, err := decodeObject(u.Content)
		if err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, fmt.Errorf("item %s: %w", u.ID, err))
		}
		decoded[i] = fields
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range updates {
		existing, ok := s.docs[u.ID]
		if !ok {
			continue
		}
		maps.Copy(existing, decoded[i])
	}
	return nil
}

// DeleteMany removes documents by id. Missing ids are ignored.
func (s *Store) DeleteMany(_ context.Context, ids []docid.ID) error {
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteMany, ids, err)
	}
	s.mu.Lock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	s.mu.Unlock()
	return nil
}

// DeleteByScope removes every document of the scoped mailbox.
func (s *Store) DeleteByScope(_ context.Context, q index.ScopeQuery) error {
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, err)
	}
	s.mu.Lock()
	for id := range s.docs {
		if q.Matches(id) {
			delete(s.docs, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Close marks the store as closed. Documents are kept.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}

// Get returns the stored document as JSON.
func (s *Store) Get(id docid.ID) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return data, true
}

// IDs returns the stored document ids in sorted order.
func (s *Store) IDs() []docid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.docs))
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) checkOpen() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return index.ErrClosed
	}
	return nil
}

func decodeObject(content json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode content: not a JSON object")
	}
	return fields, nil
}
