package index

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rbaliyan/mailsearch/docid"
)

// Sentinel errors for the index package.
var (
	// ErrNoNodeAvailable reports that no backend node could be reached.
	// It is the only failure retried by Acquire.
	ErrNoNodeAvailable = errors.New("index: no node available")

	// ErrBackendUnavailable is matched by BackendUnavailableError.
	ErrBackendUnavailable = errors.New("index: backend unavailable")

	// ErrIndexWrite is matched by WriteError.
	ErrIndexWrite = errors.New("index: write failed")

	// ErrClosed is returned by handles used after Close.
	ErrClosed = errors.New("index: handle closed")
)

// BackendUnavailableError is returned by Acquire once the retry budget is spent.
type BackendUnavailableError struct {
	Attempts int
	Cause    error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("index: backend unavailable after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Cause }

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// WriteError reports a failed write after the handle was acquired.
type WriteError struct {
	Op  Op
	IDs []docid.ID
	Err error
}

// NewWriteError wraps err for op. It returns nil when err is nil.
func NewWriteError(op Op, ids []docid.ID, err error) error {
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Op: op, IDs: ids, Err: err}
}

func (e *WriteError) Error() string {
	var b strings.Builder
	b.WriteString("index: ")
	b.WriteString(string(e.Op))
	if n := len(e.IDs); n > 0 {
		fmt.Fprintf(&b, " (%d ids)", n)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool {
	return target == ErrIndexWrite
}

// IsNoNodeAvailable reports whether err means no backend node was reachable.
// Backends mark such failures with ErrNoNodeAvailable; refused or failed
// dials from the network stack are recognized as well.
func IsNoNodeAvailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoNodeAvailable) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsNotFound || dnsErr.IsTemporary)
}

// NoNodeAvailable wraps err with ErrNoNodeAvailable.
func NoNodeAvailable(err error) error {
	if err == nil || errors.Is(err, ErrNoNodeAvailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNoNodeAvailable, err)
}
