package mailsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailsearch/store"
)

// Event names for mailbox store notifications.
// The service prefixes them with its service name.
const (
	EventNameMessageAdded     = "mailbox.message.added"
	EventNameFlagsUpdated     = "mailbox.flags.updated"
	EventNameMessagesExpunged = "mailbox.messages.expunged"
	EventNameMailboxDeleted   = "mailbox.deleted"
)

// MessageAddedEvent is published by the mailbox store after an append commits.
type MessageAddedEvent struct {
	User    store.Principal   `json:"user"`
	Mailbox store.MailboxRef  `json:"mailbox"`
	Message *store.RawMessage `json:"message"`
	AddedAt time.Time         `json:"added_at"`
}

// FlagsUpdatedEvent is published after a flag change commits.
type FlagsUpdatedEvent struct {
	User      store.Principal      `json:"user"`
	Mailbox   store.MailboxRef     `json:"mailbox"`
	Updates   []store.UpdatedFlags `json:"updates"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// MessagesExpungedEvent is published after messages are expunged.
type MessagesExpungedEvent struct {
	User       store.Principal  `json:"user"`
	Mailbox    store.MailboxRef `json:"mailbox"`
	UIDs       []store.UID      `json:"uids"`
	ExpungedAt time.Time        `json:"expunged_at"`
}

// MailboxDeletedEvent is published after a mailbox is deleted.
type MailboxDeletedEvent struct {
	User      store.Principal  `json:"user"`
	Mailbox   store.MailboxRef `json:"mailbox"`
	DeletedAt time.Time        `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// The mailbox store publishes on them; the service subscribes during
// Connect and drives its Listener.
//
//	svc.Events().MessageAdded.Publish(ctx, mailsearch.MessageAddedEvent{...})
type ServiceEvents struct {
	MessageAdded     event.Event[MessageAddedEvent]
	FlagsUpdated     event.Event[FlagsUpdatedEvent]
	MessagesExpunged event.Event[MessagesExpungedEvent]
	MailboxDeleted   event.Event[MailboxDeletedEvent]
}

// newServiceEvents creates event instances named under prefix.
func newServiceEvents(prefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageAdded:     event.New[MessageAddedEvent](prefix + "." + EventNameMessageAdded),
		FlagsUpdated:     event.New[FlagsUpdatedEvent](prefix + "." + EventNameFlagsUpdated),
		MessagesExpunged: event.New[MessagesExpungedEvent](prefix + "." + EventNameMessagesExpunged),
		MailboxDeleted:   event.New[MailboxDeletedEvent](prefix + "." + EventNameMailboxDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageAdded); err != nil {
		return fmt.Errorf("register MessageAdded: %w", err)
	}
	if err := event.Register(ctx, bus, events.FlagsUpdated); err != nil {
		return fmt.Errorf("register FlagsUpdated: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesExpunged); err != nil {
		return fmt.Errorf("register MessagesExpunged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailboxDeleted); err != nil {
		return fmt.Errorf("register MailboxDeleted: %w", err)
	}
	return nil
}

// subscribeServiceEvents routes every event to the listener.
func (s *service) subscribeServiceEvents(ctx context.Context) error {
	if err := s.events.MessageAdded.Subscribe(ctx, s.onMessageAdded); err != nil {
		return fmt.Errorf("subscribe MessageAdded: %w", err)
	}
	if err := s.events.FlagsUpdated.Subscribe(ctx, s.onFlagsUpdated); err != nil {
		return fmt.Errorf("subscribe FlagsUpdated: %w", err)
	}
	if err := s.events.MessagesExpunged.Subscribe(ctx, s.onMessagesExpunged); err != nil {
		return fmt.Errorf("subscribe MessagesExpunged: %w", err)
	}
	if err := s.events.MailboxDeleted.Subscribe(ctx, s.onMailboxDeleted); err != nil {
		return fmt.Errorf("subscribe MailboxDeleted: %w", err)
	}
	return nil
}

// Handlers always return nil: failures are contained by the listener and
// redelivery would not help a document that cannot be projected.

func (s *service) onMessageAdded(ctx context.Context, _ event.Event[MessageAddedEvent], data MessageAddedEvent) error {
	s.dispatch(ctx, EventNameMessageAdded, func(ctx context.Context, l Listener) {
		var msg store.Message
		if data.Message != nil {
			msg = data.Message
		}
		l.Add(ctx, store.UserSession(data.User), data.Mailbox, msg)
	})
	return nil
}

func (s *service) onFlagsUpdated(ctx context.Context, _ event.Event[FlagsUpdatedEvent], data FlagsUpdatedEvent) error {
	s.dispatch(ctx, EventNameFlagsUpdated, func(ctx context.Context, l Listener) {
		l.Update(ctx, store.UserSession(data.User), data.Mailbox, data.Updates)
	})
	return nil
}

func (s *service) onMessagesExpunged(ctx context.Context, _ event.Event[MessagesExpungedEvent], data MessagesExpungedEvent) error {
	s.dispatch(ctx, EventNameMessagesExpunged, func(ctx context.Context, l Listener) {
		l.Delete(ctx, store.UserSession(data.User), data.Mailbox, data.UIDs)
	})
	return nil
}

func (s *service) onMailboxDeleted(ctx context.Context, _ event.Event[MailboxDeletedEvent], data MailboxDeletedEvent) error {
	s.dispatch(ctx, EventNameMailboxDeleted, func(ctx context.Context, l Listener) {
		l.DeleteAll(ctx, store.UserSession(data.User), data.Mailbox)
	})
	return nil
}
