package store

import (
	"bytes"
	"io"
	"time"
)

// Message is a committed message as seen by listeners.
type Message interface {
	UID() UID
	ModSeq() ModSeq
	Flags() Flags
	InternalDate() time.Time

	// Size returns the size of the raw RFC 5322 message in bytes.
	Size() int64

	// Open returns a reader over the raw RFC 5322 message.
	// The caller must close it.
	Open() (io.ReadCloser, error)

	// Attachments returns attachments stored outside the message body.
	Attachments() []AttachmentRef
}

// AttachmentRef points to an attachment held in external blob storage.
type AttachmentRef struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URI         string `json:"uri"`
}

// UpdatedFlags describes the flag change of one message.
type UpdatedFlags struct {
	UID      UID    `json:"uid"`
	ModSeq   ModSeq `json:"mod_seq"`
	OldFlags Flags  `json:"old_flags"`
	NewFlags Flags  `json:"new_flags"`
}

// RawMessage is a Message backed by an in-memory RFC 5322 payload.
type RawMessage struct {
	MessageUID    UID             `json:"uid"`
	MessageModSeq ModSeq          `json:"mod_seq"`
	MessageFlags  Flags           `json:"flags"`
	Internal      time.Time       `json:"internal_date"`
	Raw           []byte          `json:"raw"`
	Refs          []AttachmentRef `json:"attachments,omitempty"`
}

// Ensure RawMessage implements Message.
var _ Message = (*RawMessage)(nil)

// UID returns the message UID.
func (m *RawMessage) UID() UID { return m.MessageUID }

// ModSeq returns the modification sequence.
func (m *RawMessage) ModSeq() ModSeq { return m.MessageModSeq }

// Flags returns the flag set.
func (m *RawMessage) Flags() Flags { return m.MessageFlags }

// InternalDate returns the date the store received the message.
func (m *RawMessage) InternalDate() time.Time { return m.Internal }

// Size returns the length of the raw payload.
func (m *RawMessage) Size() int64 { return int64(len(m.Raw)) }

// Open returns a reader over the raw payload.
func (m *RawMessage) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Raw)), nil
}

// Attachments returns the external attachment references.
func (m *RawMessage) Attachments() []AttachmentRef { return m.Refs }
