package mailsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/mailsearch/content"
	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/store"
	"go.opentelemetry.io/otel/attribute"
)

// Op names a listener operation.
type Op string

// Listener operations.
const (
	OpAdd       Op = "add"
	OpDelete    Op = "delete"
	OpUpdate    Op = "update"
	OpDeleteAll Op = "delete_all"
)

// Listener keeps the search index in step with committed mailbox changes.
//
// The mailbox store calls it after each transaction commits. None of the
// methods return an error: index failures are logged, counted, reported to
// FailureHook plugins and otherwise swallowed so they can never affect the
// mailbox transaction that triggered them. The index catches up on the
// next change or through an external re-index.
type Listener interface {
	// Add indexes a newly appended message.
	Add(ctx context.Context, session store.Session, mailbox store.Mailbox, msg store.Message)
	// Delete removes expunged messages.
	Delete(ctx context.Context, session store.Session, mailbox store.Mailbox, uids []store.UID)
	// Update merges changed flags into the indexed documents.
	Update(ctx context.Context, session store.Session, mailbox store.Mailbox, updates []store.UpdatedFlags)
	// DeleteAll removes every document of a deleted mailbox.
	DeleteAll(ctx context.Context, session store.Session, mailbox store.Mailbox)
}

// Projector turns messages into index documents.
// Full and Reduced report failures as *content.ProjectionError.
type Projector interface {
	Full(ctx context.Context, mailboxID store.MailboxID, msg store.Message, owners []store.Principal) ([]byte, error)
	Reduced(ctx context.Context, mailboxID store.MailboxID, msg store.Message, owners []store.Principal) ([]byte, error)
	PartialFlags(flags store.Flags, modSeq store.ModSeq) []byte
}

// OwnerResolver returns principals that can read a mailbox besides the
// session user, such as delegates of a shared mailbox.
type OwnerResolver interface {
	Owners(ctx context.Context, session store.Session, mailbox store.Mailbox) ([]store.Principal, error)
}

// Ensure content.Projector implements Projector.
var _ Projector = (*content.Projector)(nil)

// listener is the default implementation of Listener.
type listener struct {
	handle    index.Handle
	projector Projector
	resolver  OwnerResolver
	logger    *slog.Logger
	otel      *otelInstrumentation
	plugins   *pluginRegistry
}

// Ensure listener implements Listener.
var _ Listener = (*listener)(nil)

// NewListener creates a listener writing to an acquired handle.
// Use this when the mailbox store calls the listener directly; Service
// builds one internally on Connect. Plugins passed here are not
// initialized; only their FailureHook is used.
func NewListener(h index.Handle, opts ...Option) (Listener, error) {
	if h == nil {
		return nil, ErrHandleRequired
	}
	o := newOptions(opts...)
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}
	return newListener(h, o, otelInstr, newPluginRegistry(o.logger, o.plugins)), nil
}

func newListener(h index.Handle, o *options, otelInstr *otelInstrumentation, plugins *pluginRegistry) *listener {
	return &listener{
		handle:    h,
		projector: o.projector,
		resolver:  o.resolver,
		logger:    o.logger,
		otel:      otelInstr,
		plugins:   plugins,
	}
}

// Add projects msg and upserts it under "<mailbox>:<uid>".
//
// The full projection is tried first. If it fails the reduced projection,
// which carries no attachment text, is tried. If that fails too the
// message is not indexed.
func (l *listener) Add(ctx context.Context, session store.Session, mailbox store.Mailbox, msg store.Message) {
	uidsOf := func() []store.UID {
		if msg == nil {
			return nil
		}
		return []store.UID{msg.UID()}
	}
	l.contain(ctx, OpAdd, mailbox, uidsOf, func(ctx context.Context) error {
		if msg == nil {
			return errors.New("mailsearch: nil message")
		}
		mailboxID := mailbox.ID()
		owners := l.owners(ctx, session, mailbox)

		doc, err := l.projector.Full(ctx, mailboxID, msg, owners)
		if err != nil {
			if !errors.Is(err, content.ErrProjection) {
				return err
			}
			l.logger.Warn("full projection failed, indexing without attachments",
				"op", OpAdd,
				"mailbox_id", mailboxID,
				"uid", msg.UID(),
				"error", err,
			)
			l.otel.recordFallback(ctx)

			doc, err = l.projector.Reduced(ctx, mailboxID, msg, owners)
			if err != nil {
				l.otel.recordAbandoned(ctx)
				return fmt.Errorf("%w: %w", ErrNotIndexed, err)
			}
		}

		return l.handle.UpsertOne(ctx, index.Document{
			ID:      docid.Encode(mailboxID, msg.UID()),
			Content: doc,
		})
	})
}

// Delete removes the documents of uids in one call.
func (l *listener) Delete(ctx context.Context, _ store.Session, mailbox store.Mailbox, uids []store.UID) {
	if len(uids) == 0 {
		return
	}
	l.contain(ctx, OpDelete, mailbox, func() []store.UID { return uids }, func(ctx context.Context) error {
		return l.handle.DeleteMany(ctx, docid.EncodeAll(mailbox.ID(), uids))
	})
}

// Update sends one partial flags document per entry in one batch.
func (l *listener) Update(ctx context.Context, _ store.Session, mailbox store.Mailbox, updates []store.UpdatedFlags) {
	if len(updates) == 0 {
		return
	}
	uidsOf := func() []store.UID {
		uids := make([]store.UID, len(updates))
		for i, u := range updates {
			uids[i] = u.UID
		}
		return uids
	}
	l.contain(ctx, OpUpdate, mailbox, uidsOf, func(ctx context.Context) error {
		mailboxID := mailbox.ID()
		partial := make([]index.PartialUpdate, len(updates))
		for i, u := range updates {
			partial[i] = index.PartialUpdate{
				ID:      docid.Encode(mailboxID, u.UID),
				Content: l.projector.PartialFlags(u.NewFlags, u.ModSeq),
			}
		}
		return l.handle.UpsertMany(ctx, partial)
	})
}

// DeleteAll removes every document of the mailbox.
func (l *listener) DeleteAll(ctx context.Context, _ store.Session, mailbox store.Mailbox) {
	l.contain(ctx, OpDeleteAll, mailbox, nil, func(ctx context.Context) error {
		return l.handle.DeleteByScope(ctx, index.MailboxScope(mailbox.ID()))
	})
}

// owners returns the session user plus the resolved owners.
// A resolver failure is logged and indexing continues with the session user.
func (l *listener) owners(ctx context.Context, session store.Session, mailbox store.Mailbox) []store.Principal {
	var owners []store.Principal
	if session != nil {
		owners = append(owners, session.User())
	}
	if l.resolver == nil {
		return owners
	}
	extra, err := l.resolver.Owners(ctx, session, mailbox)
	if err != nil {
		l.logger.Warn("failed to resolve mailbox owners",
			"mailbox_id", mailbox.ID(),
			"error", err,
		)
		return owners
	}
	return append(owners, extra...)
}

// contain runs fn and absorbs any error or panic it produces, including
// panics from reading the mailbox id or the uids.
func (l *listener) contain(ctx context.Context, op Op, mailbox store.Mailbox, uidsOf func() []store.UID, fn func(context.Context) error) {
	start := time.Now()
	var (
		mailboxID store.MailboxID
		uids      []store.UID
		err       error
		end       = func(error) {}
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		end(err)
		l.otel.recordOp(ctx, op, time.Since(start), err)
		if err == nil {
			return
		}
		l.logger.Error("search index update failed",
			"op", op,
			"mailbox_id", mailboxID,
			"uids", uids,
			"error", err,
		)
		l.plugins.onFailure(ctx, &Failure{Op: op, MailboxID: mailboxID, UIDs: uids, Err: err})
	}()

	if mailbox == nil {
		err = errors.New("mailsearch: nil mailbox")
		return
	}
	mailboxID = mailbox.ID()
	uids = uidsOf()
	ctx, end = l.otel.startSpan(ctx, "mailsearch."+string(op),
		attribute.String("mailbox_id", string(mailboxID)),
		attribute.Int("uids", len(uids)),
	)
	err = fn(ctx)
}
