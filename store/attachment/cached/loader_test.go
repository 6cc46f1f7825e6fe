package cached

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailsearch/store"
)

type countingBackend struct {
	mu    sync.Mutex
	data  map[string]string
	loads int
}

func (b *countingBackend) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	s, ok := b.data[uri]
	if !ok {
		return nil, store.ErrAttachmentNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (b *countingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

func readAll(t *testing.T, l *Loader, uri string) string {
	t.Helper()
	rc, err := l.Load(context.Background(), uri)
	if err != nil {
		t.Fatalf("Load(%s): %v", uri, err)
	}
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return string(b)
}

func newLoader(t *testing.T, backend store.AttachmentLoader, opts ...Option) *Loader {
	t.Helper()
	opts = append([]Option{WithCacheDir(t.TempDir())}, opts...)
	l, err := New(backend, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoaderCachesFullReads(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/a": "agenda"}}
	l := newLoader(t, backend)

	for i := 0; i < 3; i++ {
		if got := readAll(t, l, "s3://b/a"); got != "agenda" {
			t.Fatalf("content = %q", got)
		}
	}
	if n := backend.count(); n != 1 {
		t.Errorf("backend loads = %d, want 1", n)
	}
	if l.Size() != int64(len("agenda")) {
		t.Errorf("Size = %d, want %d", l.Size(), len("agenda"))
	}
}

func TestLoaderOverlappingMisses(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/a": "agenda"}}
	l := newLoader(t, backend)

	// Both loads miss before either reader has been drained.
	var readers []io.ReadCloser
	for i := 0; i < 2; i++ {
		rc, err := l.Load(context.Background(), "s3://b/a")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		readers = append(readers, rc)
	}
	for _, rc := range readers {
		if _, err := io.ReadAll(rc); err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := rc.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	if l.Size() != int64(len("agenda")) {
		t.Errorf("Size = %d, want %d", l.Size(), len("agenda"))
	}
	entries, err := os.ReadDir(l.cacheDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("cache dir holds %d files, want 1", len(entries))
	}
	if got := readAll(t, l, "s3://b/a"); got != "agenda" {
		t.Errorf("content = %q", got)
	}
	if n := backend.count(); n != 2 {
		t.Errorf("backend loads = %d, want 2", n)
	}
}

func TestLoaderSkipsPartialReads(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/a": "agenda"}}
	l := newLoader(t, backend)

	rc, err := l.Load(context.Background(), "s3://b/a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	_ = rc.Close()

	readAll(t, l, "s3://b/a")
	if n := backend.count(); n != 2 {
		t.Errorf("backend loads = %d, want 2", n)
	}
}

func TestLoaderRespectsMaxSize(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/big": "0123456789"}}
	l := newLoader(t, backend, WithMaxSize(4))

	readAll(t, l, "s3://b/big")
	readAll(t, l, "s3://b/big")
	if n := backend.count(); n != 2 {
		t.Errorf("backend loads = %d, want 2", n)
	}
	if l.Size() != 0 {
		t.Errorf("Size = %d, want 0", l.Size())
	}
}

func TestLoaderExpiry(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/a": "agenda"}}
	l := newLoader(t, backend, WithTTL(time.Hour))
	readAll(t, l, "s3://b/a")

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(l.cacheDir, cacheKey("s3://b/a")), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	readAll(t, l, "s3://b/a")
	if n := backend.count(); n != 2 {
		t.Errorf("backend loads = %d, want 2", n)
	}
}

func TestLoaderPropagatesBackendErrors(t *testing.T) {
	l := newLoader(t, &countingBackend{})
	if _, err := l.Load(context.Background(), "s3://b/none"); !errors.Is(err, store.ErrAttachmentNotFound) {
		t.Errorf("error = %v, want ErrAttachmentNotFound", err)
	}
}

func TestLoaderClear(t *testing.T) {
	backend := &countingBackend{data: map[string]string{"s3://b/a": "agenda"}}
	l := newLoader(t, backend)
	readAll(t, l, "s3://b/a")

	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if l.Size() != 0 {
		t.Errorf("Size = %d, want 0", l.Size())
	}
	readAll(t, l, "s3://b/a")
	if n := backend.count(); n != 2 {
		t.Errorf("backend loads = %d, want 2", n)
	}
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil): expected error")
	}
}
