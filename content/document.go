package content

import (
	"time"

	"github.com/rbaliyan/mailsearch/store"
)

// Document is the JSON payload stored for one message.
type Document struct {
	MailboxID    string     `json:"mailbox_id"`
	UID          uint64     `json:"uid"`
	ModSeq       uint64     `json:"mod_seq"`
	Size         int64      `json:"size"`
	InternalDate time.Time  `json:"internal_date"`
	SentDate     *time.Time `json:"sent_date,omitempty"`
	Users        []string   `json:"users"`

	MessageID string    `json:"message_id,omitempty"`
	Subject   string    `json:"subject"`
	From      []Address `json:"from,omitempty"`
	To        []Address `json:"to,omitempty"`
	Cc        []Address `json:"cc,omitempty"`
	Bcc       []Address `json:"bcc,omitempty"`
	ReplyTo   []Address `json:"reply_to,omitempty"`
	Headers   []Header  `json:"headers"`

	MediaType string `json:"media_type"`
	TextBody  string `json:"text_body,omitempty"`
	HTMLBody  string `json:"html_body,omitempty"`

	HasAttachment bool         `json:"has_attachment"`
	Attachments   []Attachment `json:"attachments"`

	FlagFields
}

// Address is a parsed mailbox address.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Header is one decoded header field.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment describes an attachment part or an externally stored attachment.
type Attachment struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size,omitempty"`
	TextContent string `json:"text_content,omitempty"`
}

// FlagFields holds the flag-derived fields of a document.
type FlagFields struct {
	IsAnswered bool     `json:"is_answered"`
	IsDeleted  bool     `json:"is_deleted"`
	IsDraft    bool     `json:"is_draft"`
	IsFlagged  bool     `json:"is_flagged"`
	IsRecent   bool     `json:"is_recent"`
	IsUnread   bool     `json:"is_unread"`
	UserFlags  []string `json:"user_flags"`
}

// FlagsUpdate is the partial document merged on a flag change.
type FlagsUpdate struct {
	ModSeq uint64 `json:"mod_seq"`
	FlagFields
}

// NewFlagFields derives the document flag fields from a flag set.
func NewFlagFields(f store.Flags) FlagFields {
	userFlags := f.UserFlags()
	if userFlags == nil {
		userFlags = []string{}
	}
	return FlagFields{
		IsAnswered: f.Answered(),
		IsDeleted:  f.Deleted(),
		IsDraft:    f.Draft(),
		IsFlagged:  f.Flagged(),
		IsRecent:   f.Recent(),
		IsUnread:   !f.Seen(),
		UserFlags:  userFlags,
	}
}
