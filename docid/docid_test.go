package docid

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/rbaliyan/mailsearch/store"
)

func TestEncode(t *testing.T) {
	if got := Encode("12", 1); got != "12:1" {
		t.Errorf("Encode(12, 1) = %q, want %q", got, "12:1")
	}
}

func TestEncodeAllPreservesOrder(t *testing.T) {
	got := EncodeAll("12", []store.UID{1, 2, 3, 4, 5})
	want := []ID{"12:1", "12:2", "12:3", "12:4", "12:5"}
	if !slices.Equal(got, want) {
		t.Errorf("EncodeAll() = %v, want %v", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		mailbox store.MailboxID
		uid     store.UID
	}{
		{"numeric mailbox", "12", 1},
		{"zero uid", "12", 0},
		{"max uid", "inbox", math.MaxUint64},
		{"uuid mailbox", "2f1c5a9e-0d1b-4f7e-9a51-3c7d2a8b6e10", 42},
		{"empty mailbox", "", 7},
		{"mailbox containing separator", "user:alice:INBOX", 99},
		{"mailbox ending with separator", "trailing:", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, u, err := Decode(Encode(tt.mailbox, tt.uid))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if m != tt.mailbox || u != tt.uid {
				t.Errorf("round trip = (%q, %d), want (%q, %d)", m, u, tt.mailbox, tt.uid)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, id := range []ID{"", "12", "12:", "12:abc", "12:-1", "12:18446744073709551616"} {
		t.Run(string(id), func(t *testing.T) {
			if _, _, err := Decode(id); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", id, err)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	got := Strings([]ID{"a:1", "b:2"})
	if !slices.Equal(got, []string{"a:1", "b:2"}) {
		t.Errorf("Strings() = %v", got)
	}
}
