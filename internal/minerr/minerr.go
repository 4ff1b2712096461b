// Package minerr defines the typed error kinds a peer can raise. Every
// kind is matched with this package's Is (built on errors.As), and every wrap
// carries its cause through github.com/pkg/errors so the original
// failure (a syscall, a closed channel, a bad argument) is never lost
// to a hand-formatted message string.
package minerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a fatal (or recoverable-by-design) condition.
type Kind int

const (
	// CapacityExceeded: the slot table is full on join. Fatal for the
	// joiner; the net continues untouched.
	CapacityExceeded Kind = iota + 1
	// SharedRegionFailed: create/open/map/truncate of a shared region
	// failed. Fatal; the caller must not have published any state.
	SharedRegionFailed
	// SemaphoreInitFailed: fatal to the founder; the partially-created
	// region is unlinked.
	SemaphoreInitFailed
	// WorkerStartFailed: a search worker could not be started.
	WorkerStartFailed
	// WorkerJoinFailed: a search worker did not end cleanly.
	WorkerJoinFailed
	// Timeout: a round or result wait exceeded its patience. Not really
	// an error condition for the caller: it means "round abandoned,
	// exit cleanly" (see internal/peer).
	Timeout
)

func (k Kind) String() string {
	switch k {
	case CapacityExceeded:
		return "capacity exceeded"
	case SharedRegionFailed:
		return "shared region failed"
	case SemaphoreInitFailed:
		return "semaphore init failed"
	case WorkerStartFailed:
		return "worker start failed"
	case WorkerJoinFailed:
		return "worker join failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with its underlying cause.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a Kind-tagged error from a plain message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// Wrap attaches kind to an existing error, preserving its cause chain.
// Returns nil if err is nil, so call sites can write
// `return minerr.Wrap(minerr.SharedRegionFailed, err, "...")` unconditionally
// after an `if err != nil` check without double-guarding.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrapf(err, format, args...)}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
