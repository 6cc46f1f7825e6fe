// Package store defines the view of the mailbox store consumed by the
// search index synchronization layer.
//
// The mailbox store itself is an external collaborator: it owns messages,
// commits transactions and notifies listeners after each commit. This
// package only describes the values those notifications carry. Concrete
// implementations live with the store; [RawMessage] is a minimal
// implementation for event payloads and tests.
package store

import (
	"strconv"
)

// MailboxID identifies a mailbox. It is opaque, stable for the mailbox's
// lifetime, and its string form is the canonical serialization.
type MailboxID string

// String returns the canonical serialization of the mailbox identifier.
func (id MailboxID) String() string { return string(id) }

// UID is the mailbox-scoped message sequence number assigned on append.
// UIDs increase monotonically and are never reused within a mailbox.
type UID uint64

// String returns the decimal form of the UID.
func (u UID) String() string { return strconv.FormatUint(uint64(u), 10) }

// ModSeq is the modification sequence number bumped on every message state change.
type ModSeq uint64

// Principal identifies a user that can access a mailbox.
type Principal string

// Session is the acting context of a mailbox operation.
type Session interface {
	// User returns the principal performing the operation.
	User() Principal
}

// Mailbox is a named collection of messages.
type Mailbox interface {
	ID() MailboxID
	Name() string
}

// UserSession is a Session bound to a single principal.
type UserSession Principal

// User returns the session principal.
func (s UserSession) User() Principal { return Principal(s) }

// MailboxRef is a plain Mailbox value.
type MailboxRef struct {
	MailboxID   MailboxID `json:"id"`
	MailboxName string    `json:"name"`
}

// ID returns the mailbox identifier.
func (m MailboxRef) ID() MailboxID { return m.MailboxID }

// Name returns the mailbox name.
func (m MailboxRef) Name() string { return m.MailboxName }

// Compile-time checks.
var (
	_ Session = UserSession("")
	_ Mailbox = MailboxRef{}
)
