package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rbaliyan/mailsearch/store"
)

// Projector builds search documents from messages.
// It is safe for concurrent use.
type Projector struct {
	registry         *Registry
	loader           store.AttachmentLoader
	indexAttachments bool
	maxTextSize      int64
}

// NewProjector creates a projector.
func NewProjector(opts ...Option) *Projector {
	o := &options{
		indexAttachments: true,
		maxTextSize:      DefaultMaxTextSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	return &Projector{
		registry:         o.registry,
		loader:           o.loader,
		indexAttachments: o.indexAttachments,
		maxTextSize:      o.maxTextSize,
	}
}

// Full returns the complete document including attachment text.
// It fails with a *ProjectionError of TierFull when any part, attachment
// extraction included, cannot be serialized.
func (p *Projector) Full(ctx context.Context, mailboxID store.MailboxID, msg store.Message, owners []store.Principal) ([]byte, error) {
	return p.project(ctx, TierFull, mailboxID, msg, owners)
}

// Reduced returns the document without attachment-derived text.
// Attachment bodies are never decoded, so it fails only when the message
// itself cannot be read.
func (p *Projector) Reduced(ctx context.Context, mailboxID store.MailboxID, msg store.Message, owners []store.Principal) ([]byte, error) {
	return p.project(ctx, TierReduced, mailboxID, msg, owners)
}

// PartialFlags returns the payload merged into a document on a flag change.
func (p *Projector) PartialFlags(flags store.Flags, modSeq store.ModSeq) []byte {
	// Booleans, strings and integers always marshal.
	data, _ := json.Marshal(FlagsUpdate{
		ModSeq:     uint64(modSeq),
		FlagFields: NewFlagFields(flags),
	})
	return data
}

func (p *Projector) project(ctx context.Context, tier Tier, mailboxID store.MailboxID, msg store.Message, owners []store.Principal) ([]byte, error) {
	if msg == nil {
		return nil, projectionError(tier, "nil message")
	}
	withText := tier == TierFull && p.indexAttachments

	doc := Document{
		MailboxID:    mailboxID.String(),
		UID:          uint64(msg.UID()),
		ModSeq:       uint64(msg.ModSeq()),
		Size:         msg.Size(),
		InternalDate: msg.InternalDate().UTC(),
		Users:        users(owners),
		Headers:      []Header{},
		Attachments:  []Attachment{},
		FlagFields:   NewFlagFields(msg.Flags()),
	}

	rc, err := msg.Open()
	if err != nil {
		return nil, projectionError(tier, "open message: %w", err)
	}
	defer rc.Close()

	mr, err := mail.CreateReader(rc)
	if mr == nil {
		return nil, projectionError(tier, "parse message: %w", err)
	}
	defer mr.Close()

	readHeader(&doc, &mr.Header)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if part == nil {
			return nil, projectionError(tier, "read part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := h.ContentType()
			switch normalizeType(ct) {
			case "text/plain", "":
				text, err := p.readText(part.Body)
				if err != nil {
					return nil, projectionError(tier, "read text body: %w", err)
				}
				doc.TextBody = appendText(doc.TextBody, text)
			case "text/html":
				text, err := htmlToText(io.LimitReader(part.Body, p.maxTextSize))
				if err != nil {
					return nil, projectionError(tier, "read html body: %w", err)
				}
				doc.HTMLBody = appendText(doc.HTMLBody, strings.ToValidUTF8(text, "�"))
			default:
				att, err := p.readAttachment(params["name"], ct, part.Body, withText)
				if err != nil {
					return nil, projectionError(tier, "%w", err)
				}
				doc.Attachments = append(doc.Attachments, att)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			filename, _ := h.Filename()
			att, err := p.readAttachment(filename, ct, part.Body, withText)
			if err != nil {
				return nil, projectionError(tier, "%w", err)
			}
			doc.Attachments = append(doc.Attachments, att)
		}
	}

	for _, ref := range msg.Attachments() {
		att, err := p.loadAttachment(ctx, ref, withText)
		if err != nil {
			return nil, projectionError(tier, "%w", err)
		}
		doc.Attachments = append(doc.Attachments, att)
	}
	doc.HasAttachment = len(doc.Attachments) > 0

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, projectionError(tier, "marshal document: %w", err)
	}
	return data, nil
}

// readText reads a body part, replacing invalid UTF-8 sequences.
func (p *Projector) readText(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, p.maxTextSize))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// readAttachment describes an attachment part. With withText set the
// registered extractor runs and its failure is returned. Otherwise the body
// is only counted and read errors are ignored.
func (p *Projector) readAttachment(filename, contentType string, body io.Reader, withText bool) (Attachment, error) {
	att := Attachment{
		Filename:    filename,
		ContentType: normalizeType(contentType),
	}
	cr := &countingReader{r: body}

	if !withText {
		_, _ = io.Copy(io.Discard, cr)
		att.Size = cr.n
		return att, nil
	}

	if ext, ok := p.registry.Lookup(att.ContentType); ok {
		text, err := p.extract(ext, cr)
		if err != nil {
			return Attachment{}, fmt.Errorf("attachment %q: %w", filename, err)
		}
		att.TextContent = text
	}
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return Attachment{}, fmt.Errorf("attachment %q: read: %w", filename, err)
	}
	att.Size = cr.n
	return att, nil
}

// loadAttachment describes an externally stored attachment, loading its
// content only when text is wanted and an extractor exists.
func (p *Projector) loadAttachment(ctx context.Context, ref store.AttachmentRef, withText bool) (Attachment, error) {
	att := Attachment{
		Filename:    ref.Filename,
		ContentType: normalizeType(ref.ContentType),
		Size:        ref.Size,
	}
	if !withText || p.loader == nil || ref.URI == "" {
		return att, nil
	}
	ext, ok := p.registry.Lookup(att.ContentType)
	if !ok {
		return att, nil
	}

	rc, err := p.loader.Load(ctx, ref.URI)
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment %q: load: %w", ref.Filename, err)
	}
	defer rc.Close()

	text, err := p.extract(ext, rc)
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment %q: %w", ref.Filename, err)
	}
	att.TextContent = text
	return att, nil
}

func (p *Projector) extract(ext Extractor, r io.Reader) (string, error) {
	lr := &io.LimitedReader{R: r, N: p.maxTextSize}
	text, err := ext.Extract(lr)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext.ContentType(), err)
	}
	if lr.N == 0 {
		text = trimPartialRune(text)
	}
	if !utf8.ValidString(text) {
		return "", ErrInvalidText
	}
	return text, nil
}

// trimPartialRune drops a multi-byte sequence cut off at the end of s.
func trimPartialRune(s string) string {
	for i := len(s) - 1; i >= 0 && i > len(s)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if !utf8.FullRuneInString(s[i:]) {
			return s[:i]
		}
		return s
	}
	return s
}

func readHeader(doc *Document, h *mail.Header) {
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	doc.Subject = strings.ToValidUTF8(subject, "�")

	if t, err := h.Date(); err == nil && !t.IsZero() {
		sent := t.UTC()
		doc.SentDate = &sent
	}
	if id, err := h.MessageID(); err == nil {
		doc.MessageID = id
	}

	doc.From = addressList(h, "From")
	doc.To = addressList(h, "To")
	doc.Cc = addressList(h, "Cc")
	doc.Bcc = addressList(h, "Bcc")
	doc.ReplyTo = addressList(h, "Reply-To")

	fields := h.Fields()
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		doc.Headers = append(doc.Headers, Header{
			Name:  fields.Key(),
			Value: strings.ToValidUTF8(v, "�"),
		})
	}

	mt, _, _ := h.ContentType()
	if mt == "" {
		mt = "text/plain"
	}
	doc.MediaType = mt
}

func addressList(h *mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{
			Name:    strings.ToValidUTF8(a.Name, "�"),
			Address: strings.ToValidUTF8(a.Address, "�"),
		})
	}
	return out
}

func users(owners []store.Principal) []string {
	out := make([]string, 0, len(owners))
	for _, o := range owners {
		if o != "" {
			out = append(out, string(o))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func appendText(existing, text string) string {
	if existing == "" {
		return text
	}
	if text == "" {
		return existing
	}
	return existing + "\n" + text
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
