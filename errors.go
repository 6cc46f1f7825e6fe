package mailsearch

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailsearch/index"
	"github.com/rbaliyan/mailsearch/store"
)

// Sentinel errors for the mailsearch package.
// Use errors.Is() to check for these errors.
var (
	// ErrDialerRequired is returned when no index dialer is configured.
	ErrDialerRequired = errors.New("mailsearch: index dialer is required")

	// ErrHandleRequired is returned by NewListener when the handle is nil.
	ErrHandleRequired = errors.New("mailsearch: index handle is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("mailsearch: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("mailsearch: already connected")

	// ErrBackendUnavailable is matched by the error Connect returns when the
	// index backend could not be reached within the retry budget.
	ErrBackendUnavailable = index.ErrBackendUnavailable

	// ErrNotIndexed reports a message dropped after both projection tiers failed.
	ErrNotIndexed = errors.New("mailsearch: message not indexed")

	// ErrPanic wraps a panic recovered from the projector or the index.
	ErrPanic = errors.New("mailsearch: recovered panic")
)

// Failure describes a contained listener failure.
// It is passed to FailureHook plugins so operators can reconcile the index.
type Failure struct {
	Op        Op
	MailboxID store.MailboxID
	UIDs      []store.UID
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("mailsearch: %s mailbox %q (%d uids): %v", f.Op, f.MailboxID, len(f.UIDs), f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// IsBackendUnavailable reports whether err means the index backend was
// unreachable for the whole startup retry budget.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
