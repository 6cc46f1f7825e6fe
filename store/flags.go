package store

import (
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// FlagRecent marks a message that arrived since the last session.
// IMAP4rev2 dropped it from the protocol but stores still track it.
const FlagRecent imap.Flag = "\\Recent"

// systemFlags are the flags with a dedicated field in indexed documents.
var systemFlags = []imap.Flag{
	imap.FlagAnswered,
	imap.FlagDeleted,
	imap.FlagDraft,
	imap.FlagFlagged,
	FlagRecent,
	imap.FlagSeen,
}

// Flags is the flag set of a message. Comparison is case-insensitive.
type Flags []imap.Flag

// NewFlags returns a flag set holding the given flags.
func NewFlags(flags ...imap.Flag) Flags {
	return Flags(flags)
}

// Has reports whether the flag is set.
func (f Flags) Has(flag imap.Flag) bool {
	want := canonicalFlag(flag)
	for _, v := range f {
		if canonicalFlag(v) == want {
			return true
		}
	}
	return false
}

// Answered reports whether \Answered is set.
func (f Flags) Answered() bool { return f.Has(imap.FlagAnswered) }

// Deleted reports whether \Deleted is set.
func (f Flags) Deleted() bool { return f.Has(imap.FlagDeleted) }

// Draft reports whether \Draft is set.
func (f Flags) Draft() bool { return f.Has(imap.FlagDraft) }

// Flagged reports whether \Flagged is set.
func (f Flags) Flagged() bool { return f.Has(imap.FlagFlagged) }

// Recent reports whether \Recent is set.
func (f Flags) Recent() bool { return f.Has(FlagRecent) }

// Seen reports whether \Seen is set.
func (f Flags) Seen() bool { return f.Has(imap.FlagSeen) }

// UserFlags returns the keywords that are not system flags, sorted and
// without duplicates.
func (f Flags) UserFlags() []string {
	var out []string
	for _, v := range f {
		if isSystemFlag(v) {
			continue
		}
		s := string(v)
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

func isSystemFlag(flag imap.Flag) bool {
	c := canonicalFlag(flag)
	for _, sf := range systemFlags {
		if canonicalFlag(sf) == c {
			return true
		}
	}
	return false
}

func canonicalFlag(flag imap.Flag) imap.Flag {
	return imap.Flag(strings.ToLower(string(flag)))
}
