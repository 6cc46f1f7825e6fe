package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rbaliyan/mailsearch/store"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://mail/attachments/a.txt", "mail", "attachments/a.txt", false},
		{"s3://mail/a", "mail", "a", false},
		{"s3://mail", "", "", true},
		{"s3://mail/", "", "", true},
		{"s3:///key", "", "", true},
		{"gs://mail/a", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := parseURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, store.ErrInvalidURI) {
					t.Errorf("error = %v, want ErrInvalidURI", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseURI: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Error("New without bucket: expected error")
	}
}

// newTestLoader points a loader at an S3-compatible fake.
func newTestLoader(t *testing.T, h http.Handler, opts ...Option) *Loader {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithBucket("mail"),
		WithEndpoint(srv.URL),
		WithPathStyle(true),
		WithStaticCredentials("test", "test"),
	}, opts...)
	l, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mail/attachments/notes.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "meeting notes")
	})
	mux.HandleFunc("GET /mail/attachments/missing.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
	})
	l := newTestLoader(t, mux, WithPrefix("attachments/"))

	t.Run("found", func(t *testing.T) {
		rc, err := l.Load(ctx, "s3://mail/attachments/notes.txt")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(b) != "meeting notes" {
			t.Errorf("content = %q", b)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := l.Load(ctx, "s3://mail/attachments/missing.txt")
		if !errors.Is(err, store.ErrAttachmentNotFound) {
			t.Errorf("error = %v, want ErrAttachmentNotFound", err)
		}
	})

	t.Run("other bucket", func(t *testing.T) {
		_, err := l.Load(ctx, "s3://elsewhere/attachments/notes.txt")
		if !errors.Is(err, store.ErrInvalidURI) {
			t.Errorf("error = %v, want ErrInvalidURI", err)
		}
	})

	t.Run("outside prefix", func(t *testing.T) {
		_, err := l.Load(ctx, "s3://mail/private/notes.txt")
		if !errors.Is(err, store.ErrInvalidURI) {
			t.Errorf("error = %v, want ErrInvalidURI", err)
		}
	})

	t.Run("prefix ends at a path boundary", func(t *testing.T) {
		bare := newTestLoader(t, mux, WithPrefix("attachments"))
		rc, err := bare.Load(ctx, "s3://mail/attachments/notes.txt")
		if err != nil {
			t.Fatalf("Load under prefix: %v", err)
		}
		_ = rc.Close()

		_, err = bare.Load(ctx, "s3://mail/attachments-old/notes.txt")
		if !errors.Is(err, store.ErrInvalidURI) {
			t.Errorf("sibling key error = %v, want ErrInvalidURI", err)
		}
	})
}

func TestUnderPrefix(t *testing.T) {
	tests := []struct {
		key, prefix string
		want        bool
	}{
		{"att/x", "", true},
		{"att/x", "att", true},
		{"att/x", "att/", true},
		{"attic/x", "att", false},
		{"attic/x", "att/", false},
		{"att", "att", false},
		{"a/b/c", "a/b", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"@"+tt.prefix, func(t *testing.T) {
			if got := underPrefix(tt.key, tt.prefix); got != tt.want {
				t.Errorf("underPrefix(%q, %q) = %v, want %v", tt.key, tt.prefix, got, tt.want)
			}
		})
	}
}
