package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
)

func mustConnect(t *testing.T, s *Store) index.Handle {
	t.Helper()
	h, err := index.Acquire(context.Background(), s.Dialer())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return h
}

func field(t *testing.T, s *Store, id docid.ID) map[string]any {
	t.Helper()
	raw, ok := s.Get(id)
	if !ok {
		t.Fatalf("document %s not found", id)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	h := mustConnect(t, s)

	for _, id := range []docid.ID{"12:1", "12:2", "13:1"} {
		doc := index.Document{ID: id, Content: json.RawMessage(`{"subject":"hello","is_unread":true,"mod_seq":1}`)}
		if err := h.UpsertOne(ctx, doc); err != nil {
			t.Fatalf("UpsertOne(%s): %v", id, err)
		}
	}

	t.Run("partial update merges fields", func(t *testing.T) {
		err := h.UpsertMany(ctx, []index.PartialUpdate{
			{ID: "12:1", Content: json.RawMessage(`{"is_unread":false,"mod_seq":18}`)},
			{ID: "99:1", Content: json.RawMessage(`{"is_unread":false}`)},
		})
		if err != nil {
			t.Fatalf("UpsertMany: %v", err)
		}
		got := field(t, s, "12:1")
		want := map[string]any{"subject": "hello", "is_unread": false, "mod_seq": float64(18)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("document mismatch (-want +got):\n%s", diff)
		}
		if _, ok := s.Get("99:1"); ok {
			t.Error("partial update must not create missing documents")
		}
	})

	t.Run("invalid batch changes nothing", func(t *testing.T) {
		err := h.UpsertMany(ctx, []index.PartialUpdate{
			{ID: "12:2", Content: json.RawMessage(`{"is_flagged":true}`)},
			{ID: "13:1", Content: json.RawMessage(`not json`)},
		})
		if !errors.Is(err, index.ErrIndexWrite) {
			t.Fatalf("expected ErrIndexWrite, got %v", err)
		}
		if _, ok := field(t, s, "12:2")["is_flagged"]; ok {
			t.Error("batch must not be partially applied")
		}
	})

	t.Run("delete many is idempotent", func(t *testing.T) {
		if err := h.DeleteMany(ctx, []docid.ID{"12:2", "12:404"}); err != nil {
			t.Fatalf("DeleteMany: %v", err)
		}
		if err := h.DeleteMany(ctx, []docid.ID{"12:2"}); err != nil {
			t.Fatalf("DeleteMany again: %v", err)
		}
		if diff := cmp.Diff([]docid.ID{"12:1", "13:1"}, s.IDs()); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete by scope", func(t *testing.T) {
		if err := h.DeleteByScope(ctx, index.MailboxScope("12")); err != nil {
			t.Fatalf("DeleteByScope: %v", err)
		}
		if diff := cmp.Diff([]docid.ID{"13:1"}, s.IDs()); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
		if err := h.DeleteByScope(ctx, index.MailboxScope("12")); err != nil {
			t.Fatalf("DeleteByScope again: %v", err)
		}
	})

	t.Run("closed handle rejects writes", func(t *testing.T) {
		if err := h.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		err := h.DeleteMany(ctx, []docid.ID{"13:1"})
		if !errors.Is(err, index.ErrIndexWrite) || !errors.Is(err, index.ErrClosed) {
			t.Errorf("expected closed write error, got %v", err)
		}
		if s.Len() != 1 {
			t.Errorf("Len() = %d, want 1", s.Len())
		}
	})
}

func TestUpsertOneRejectsNonObject(t *testing.T) {
	s := New()
	err := s.UpsertOne(context.Background(), index.Document{ID: "1:1", Content: json.RawMessage(`[1,2]`)})
	if !errors.Is(err, index.ErrIndexWrite) {
		t.Errorf("expected ErrIndexWrite, got %v", err)
	}
}
