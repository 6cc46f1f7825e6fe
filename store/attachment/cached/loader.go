// Package cached provides a local file cache in front of an attachment loader.
//
// Attachment text is extracted every time a message is projected, including
// the retry through the reduced tier, so repeated loads of the same object
// are common. A fully read object is kept on disk keyed by the SHA-256 of
// its URI.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbaliyan/mailsearch/store"
)

const tmpPrefix = "tmp-"

// Loader wraps a store.AttachmentLoader with local file caching.
type Loader struct {
	backend  store.AttachmentLoader
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	cacheSize int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Ensure Loader implements AttachmentLoader.
var _ store.AttachmentLoader = (*Loader)(nil)

// New creates a cached loader wrapping backend.
// Call Close to stop the background cleanup.
func New(backend store.AttachmentLoader, opts ...Option) (*Loader, error) {
	if backend == nil {
		return nil, errors.New("cached: backend is required")
	}
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  DefaultMaxSize,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "mailsearch-attachments")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("cached: create cache directory: %w", err)
	}

	l := &Loader{
		backend:  backend,
		cacheDir: cacheDir,
		maxSize:  o.maxSize,
		ttl:      o.ttl,
		logger:   o.logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.cacheSize = l.scanSize()

	if l.ttl > 0 {
		go l.cleanupLoop(l.ttl / 2)
	} else {
		close(l.done)
	}
	return l, nil
}

// Load returns the cached content for uri or loads it from the backend.
// Backend content is cached once it has been read to the end.
func (l *Loader) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	path := filepath.Join(l.cacheDir, cacheKey(uri))

	if info, err := os.Stat(path); err == nil {
		if l.ttl == 0 || time.Since(info.ModTime()) < l.ttl {
			if f, err := os.Open(path); err == nil {
				l.logger.Debug("attachment cache hit", "uri", uri)
				return f, nil
			}
		} else if os.Remove(path) == nil {
			l.addSize(-info.Size())
		}
	}

	l.logger.Debug("attachment cache miss", "uri", uri)
	rc, err := l.backend.Load(ctx, uri)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(l.cacheDir, tmpPrefix+"*")
	if err != nil {
		l.logger.Warn("failed to create cache file", "error", err)
		return rc, nil
	}
	return &cachingReader{source: rc, tmp: tmp, path: path, loader: l}, nil
}

// Clear removes every cached file.
func (l *Loader) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.cacheDir)
	if err != nil {
		return fmt.Errorf("cached: read cache dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			_ = os.Remove(filepath.Join(l.cacheDir, e.Name()))
		}
	}
	l.cacheSize = 0
	return nil
}

// Size returns the bytes currently held in the cache.
func (l *Loader) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cacheSize
}

// Close stops the background cleanup. Cached files are kept.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func cacheKey(uri string) string {
	h := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(h[:])
}

func (l *Loader) addSize(delta int64) {
	l.mu.Lock()
	l.cacheSize = max(l.cacheSize+delta, 0)
	l.mu.Unlock()
}

func (l *Loader) scanSize() int64 {
	entries, err := os.ReadDir(l.cacheDir)
	if err != nil {
		l.logger.Warn("failed to scan cache dir", "error", err)
		return 0
	}
	var size int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if info, err := e.Info(); err == nil {
			size += info.Size()
		}
	}
	return size
}

func (l *Loader) cleanupLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(max(interval, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.removeExpired()
		}
	}
}

func (l *Loader) removeExpired() {
	entries, err := os.ReadDir(l.cacheDir)
	if err != nil {
		l.logger.Warn("failed to read cache dir for cleanup", "error", err)
		return
	}

	now := time.Now()
	var (
		removed int
		freed   int64
	)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= l.ttl {
			continue
		}
		if os.Remove(filepath.Join(l.cacheDir, e.Name())) == nil {
			removed++
			freed += info.Size()
		}
	}
	if removed > 0 {
		l.addSize(-freed)
		l.logger.Info("attachment cache cleanup", "removed", removed, "freed_bytes", freed)
	}
}

// cachingReader copies what it reads into a temp file and moves it into the
// cache on Close if the source reached EOF without errors.
type cachingReader struct {
	source   io.ReadCloser
	tmp      *os.File
	path     string
	loader   *Loader
	size     int64
	complete bool
	failed   bool
	closed   bool
}

func (r *cachingReader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if n > 0 && !r.failed {
		if _, werr := r.tmp.Write(p[:n]); werr != nil {
			r.loader.logger.Warn("failed to write attachment cache", "error", werr)
			r.failed = true
		}
		r.size += int64(n)
	}
	switch {
	case errors.Is(err, io.EOF):
		r.complete = true
	case err != nil:
		r.failed = true
	}
	return n, err
}

func (r *cachingReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	sourceErr := r.source.Close()
	name := r.tmp.Name()
	if err := r.tmp.Close(); err != nil || !r.complete || r.failed {
		_ = os.Remove(name)
		return sourceErr
	}

	r.loader.commit(name, r.path, r.size)
	return sourceErr
}

// commit moves a completed temp file into the cache. Concurrent misses on
// one URI each finish a temp file; the first to commit wins and the rest are
// dropped so each cached file is counted once.
func (l *Loader) commit(tmp, path string, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(tmp)
		return
	}
	if l.cacheSize+size > l.maxSize {
		_ = os.Remove(tmp)
		l.logger.Debug("attachment cache full", "size", size)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		l.logger.Warn("failed to move attachment into cache", "error", err)
		return
	}
	l.cacheSize += size
}
