// Package docid encodes and decodes search document identifiers.
//
// A document identifier joins a mailbox identifier and a message UID with
// a colon, for example "12:1". Decoding splits at the last colon, so the
// mapping stays a bijection even for mailbox identifiers that contain one.
package docid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbaliyan/mailsearch/store"
)

// Separator joins the mailbox identifier and the UID.
const Separator = ":"

// ErrMalformed is returned by Decode for identifiers it cannot split.
var ErrMalformed = errors.New("docid: malformed document id")

// ID identifies one indexed document.
type ID string

// String returns the identifier.
func (id ID) String() string { return string(id) }

// Encode returns the document identifier for a message.
func Encode(mailboxID store.MailboxID, uid store.UID) ID {
	return ID(mailboxID.String() + Separator + uid.String())
}

// EncodeAll maps uids to document identifiers, preserving order.
func EncodeAll(mailboxID store.MailboxID, uids []store.UID) []ID {
	ids := make([]ID, len(uids))
	for i, uid := range uids {
		ids[i] = Encode(mailboxID, uid)
	}
	return ids
}

// Decode splits a document identifier back into its mailbox identifier and UID.
func Decode(id ID) (store.MailboxID, store.UID, error) {
	s := string(id)
	i := strings.LastIndex(s, Separator)
	if i < 0 {
		return "", 0, fmt.Errorf("%w: %q has no separator", ErrMalformed, s)
	}
	uid, err := strconv.ParseUint(s[i+len(Separator):], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return store.MailboxID(s[:i]), store.UID(uid), nil
}

// Strings converts identifiers to plain strings.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
