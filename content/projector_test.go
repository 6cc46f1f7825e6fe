package content

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/mailsearch/store"
)

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>, carol@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Message-ID: <report-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers look good.\r\n"

const attachmentMessage = "From: alice@example.com\r\n" +
	"Subject: Notes\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"meeting notes inside\r\n" +
	"--b1\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"blob.bin\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"AAECAw==\r\n" +
	"--b1--\r\n"

// badAttachmentMessage carries a text attachment whose bytes are not UTF-8.
const badAttachmentMessage = "From: alice@example.com\r\n" +
	"Subject: Broken\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Body survives.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"bad.txt\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"//79\r\n" +
	"--b1--\r\n"

const htmlMessage = "From: alice@example.com\r\n" +
	"Subject: Newsletter\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<html><head><style>p{color:red}</style></head>" +
	"<body><p>Hello <b>world</b></p><script>alert(1)</script></body></html>\r\n"

func newMessage(raw string, flags ...imap.Flag) *store.RawMessage {
	return &store.RawMessage{
		MessageUID:    1,
		MessageModSeq: 42,
		MessageFlags:  store.NewFlags(flags...),
		Internal:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Raw:           []byte(raw),
	}
}

func decode(t *testing.T, data []byte) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	return doc
}

type failingMessage struct {
	store.RawMessage
}

func (m *failingMessage) Open() (io.ReadCloser, error) {
	return nil, errors.New("storage offline")
}

type fakeLoader struct {
	data map[string]string
	err  error
}

func (l *fakeLoader) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	if l.err != nil {
		return nil, l.err
	}
	s, ok := l.data[uri]
	if !ok {
		return nil, store.ErrAttachmentNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func TestProjectorFull(t *testing.T) {
	ctx := context.Background()
	p := NewProjector()

	t.Run("headers and body", func(t *testing.T) {
		msg := newMessage(plainMessage, imap.FlagSeen, imap.FlagFlagged, "Urgent")
		data, err := p.Full(ctx, "12", msg, []store.Principal{"bob", "alice", "bob"})
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)

		if doc.MailboxID != "12" || doc.UID != 1 || doc.ModSeq != 42 {
			t.Errorf("identity = %s/%d/%d", doc.MailboxID, doc.UID, doc.ModSeq)
		}
		if doc.Subject != "Quarterly report" {
			t.Errorf("Subject = %q", doc.Subject)
		}
		if doc.MessageID != "report-1@example.com" {
			t.Errorf("MessageID = %q", doc.MessageID)
		}
		if diff := cmp.Diff([]string{"alice", "bob"}, doc.Users); diff != "" {
			t.Errorf("Users mismatch (-want +got):\n%s", diff)
		}
		wantTo := []Address{
			{Name: "Bob", Address: "bob@example.com"},
			{Address: "carol@example.com"},
		}
		if diff := cmp.Diff(wantTo, doc.To); diff != "" {
			t.Errorf("To mismatch (-want +got):\n%s", diff)
		}
		if !strings.Contains(doc.TextBody, "Numbers look good.") {
			t.Errorf("TextBody = %q", doc.TextBody)
		}
		if doc.SentDate == nil || !doc.SentDate.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)) {
			t.Errorf("SentDate = %v", doc.SentDate)
		}
		if doc.MediaType != "text/plain" {
			t.Errorf("MediaType = %q", doc.MediaType)
		}
		if doc.IsUnread || !doc.IsFlagged || doc.IsDeleted {
			t.Errorf("flag fields = %+v", doc.FlagFields)
		}
		if diff := cmp.Diff([]string{"Urgent"}, doc.UserFlags); diff != "" {
			t.Errorf("UserFlags mismatch (-want +got):\n%s", diff)
		}
		if doc.HasAttachment {
			t.Error("HasAttachment = true, want false")
		}
	})

	t.Run("attachment text", func(t *testing.T) {
		data, err := p.Full(ctx, "12", newMessage(attachmentMessage), nil)
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)
		want := []Attachment{
			{Filename: "notes.txt", ContentType: "text/plain", Size: 20, TextContent: "meeting notes inside"},
			{Filename: "blob.bin", ContentType: "application/octet-stream", Size: 4},
		}
		if diff := cmp.Diff(want, doc.Attachments); diff != "" {
			t.Errorf("Attachments mismatch (-want +got):\n%s", diff)
		}
		if !doc.HasAttachment {
			t.Error("HasAttachment = false, want true")
		}
		if !strings.Contains(doc.TextBody, "See attached.") {
			t.Errorf("TextBody = %q", doc.TextBody)
		}
	})

	t.Run("html body", func(t *testing.T) {
		data, err := p.Full(ctx, "12", newMessage(htmlMessage), nil)
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)
		if doc.HTMLBody != "Hello\nworld" {
			t.Errorf("HTMLBody = %q", doc.HTMLBody)
		}
	})

	t.Run("invalid attachment text fails", func(t *testing.T) {
		_, err := p.Full(ctx, "12", newMessage(badAttachmentMessage), nil)
		if !errors.Is(err, ErrProjection) {
			t.Fatalf("Full error = %v, want ErrProjection", err)
		}
		var pe *ProjectionError
		if !errors.As(err, &pe) || pe.Tier != TierFull {
			t.Errorf("error = %#v, want TierFull ProjectionError", err)
		}
		if !errors.Is(err, ErrInvalidText) {
			t.Errorf("error = %v, want ErrInvalidText in chain", err)
		}
	})

	t.Run("truncated attachment keeps whole characters", func(t *testing.T) {
		loader := &fakeLoader{data: map[string]string{"s3://bucket/fr": strings.Repeat("é", 10)}}
		p := NewProjector(WithMaxTextSize(5), WithAttachmentLoader(loader))
		msg := newMessage(plainMessage)
		msg.Refs = []store.AttachmentRef{
			{ID: "fr", Filename: "fr.txt", ContentType: "text/plain", Size: 20, URI: "s3://bucket/fr"},
		}
		data, err := p.Full(ctx, "12", msg, nil)
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)
		if len(doc.Attachments) != 1 || doc.Attachments[0].TextContent != "éé" {
			t.Errorf("Attachments = %+v, want text %q", doc.Attachments, "éé")
		}
	})

	t.Run("attachment text disabled", func(t *testing.T) {
		p := NewProjector(WithIndexAttachments(false))
		data, err := p.Full(ctx, "12", newMessage(badAttachmentMessage), nil)
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)
		if len(doc.Attachments) != 1 || doc.Attachments[0].TextContent != "" {
			t.Errorf("Attachments = %+v", doc.Attachments)
		}
	})

	t.Run("unreadable message", func(t *testing.T) {
		msg := &failingMessage{RawMessage: *newMessage(plainMessage)}
		_, err := p.Full(ctx, "12", msg, nil)
		var pe *ProjectionError
		if !errors.As(err, &pe) || pe.Tier != TierFull {
			t.Errorf("error = %v, want TierFull ProjectionError", err)
		}
	})
}

func TestProjectorReduced(t *testing.T) {
	ctx := context.Background()
	p := NewProjector()

	t.Run("omits attachment text", func(t *testing.T) {
		data, err := p.Reduced(ctx, "12", newMessage(attachmentMessage), []store.Principal{"alice"})
		if err != nil {
			t.Fatalf("Reduced: %v", err)
		}
		doc := decode(t, data)
		if len(doc.Attachments) != 2 {
			t.Fatalf("len(Attachments) = %d, want 2", len(doc.Attachments))
		}
		for _, a := range doc.Attachments {
			if a.TextContent != "" {
				t.Errorf("attachment %q has text %q", a.Filename, a.TextContent)
			}
		}
		if doc.Attachments[0].Size != 20 {
			t.Errorf("Size = %d, want 20", doc.Attachments[0].Size)
		}
	})

	t.Run("succeeds where full fails", func(t *testing.T) {
		msg := newMessage(badAttachmentMessage)
		if _, err := p.Full(ctx, "12", msg, nil); err == nil {
			t.Fatal("Full: expected error")
		}
		data, err := p.Reduced(ctx, "12", msg, nil)
		if err != nil {
			t.Fatalf("Reduced: %v", err)
		}
		doc := decode(t, data)
		if !strings.Contains(doc.TextBody, "Body survives.") {
			t.Errorf("TextBody = %q", doc.TextBody)
		}
		if len(doc.Attachments) != 1 || doc.Attachments[0].Filename != "bad.txt" {
			t.Errorf("Attachments = %+v", doc.Attachments)
		}
	})

	t.Run("unreadable message", func(t *testing.T) {
		msg := &failingMessage{RawMessage: *newMessage(plainMessage)}
		_, err := p.Reduced(ctx, "12", msg, nil)
		var pe *ProjectionError
		if !errors.As(err, &pe) || pe.Tier != TierReduced {
			t.Errorf("error = %v, want TierReduced ProjectionError", err)
		}
	})
}

func TestProjectorExternalAttachments(t *testing.T) {
	ctx := context.Background()
	msg := newMessage(plainMessage)
	msg.Refs = []store.AttachmentRef{
		{ID: "a1", Filename: "agenda.txt", ContentType: "text/plain", Size: 6, URI: "s3://bucket/a1"},
		{ID: "a2", Filename: "photo.jpg", ContentType: "image/jpeg", Size: 900, URI: "s3://bucket/a2"},
	}

	t.Run("loaded", func(t *testing.T) {
		p := NewProjector(WithAttachmentLoader(&fakeLoader{data: map[string]string{"s3://bucket/a1": "agenda"}}))
		data, err := p.Full(ctx, "12", msg, nil)
		if err != nil {
			t.Fatalf("Full: %v", err)
		}
		doc := decode(t, data)
		want := []Attachment{
			{Filename: "agenda.txt", ContentType: "text/plain", Size: 6, TextContent: "agenda"},
			{Filename: "photo.jpg", ContentType: "image/jpeg", Size: 900},
		}
		if diff := cmp.Diff(want, doc.Attachments); diff != "" {
			t.Errorf("Attachments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("load failure falls to reduced", func(t *testing.T) {
		p := NewProjector(WithAttachmentLoader(&fakeLoader{err: errors.New("bucket gone")}))
		if _, err := p.Full(ctx, "12", msg, nil); !errors.Is(err, ErrProjection) {
			t.Fatalf("Full error = %v, want ErrProjection", err)
		}
		data, err := p.Reduced(ctx, "12", msg, nil)
		if err != nil {
			t.Fatalf("Reduced: %v", err)
		}
		if doc := decode(t, data); len(doc.Attachments) != 2 {
			t.Errorf("len(Attachments) = %d, want 2", len(doc.Attachments))
		}
	})
}

func TestPartialFlags(t *testing.T) {
	p := NewProjector()
	data := p.PartialFlags(store.NewFlags(imap.FlagAnswered, store.FlagRecent, "Work"), 77)

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"mod_seq":     float64(77),
		"is_answered": true,
		"is_deleted":  false,
		"is_draft":    false,
		"is_flagged":  false,
		"is_recent":   true,
		"is_unread":   true,
		"user_flags":  []any{"Work"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PartialFlags mismatch (-want +got):\n%s", diff)
	}
}
