// Package errors defines the stable, closed error taxonomy used throughout
// the kernel core (see spec §7). Every primitive in the core returns one of
// the sentinel values below, optionally wrapped with a human-readable
// message via [Error.WithMessage] or [Error.Wrap].
package errors

import "fmt"

// Error is a closed taxonomy of kernel error kinds. It implements the error
// interface directly so sentinels can be compared with errors.Is/errors.As
// without an intermediate wrapper type.
type Error string

const (
	// Invalid means an argument violated the operation's preconditions: a
	// null pointer, an oversized length, a bad file descriptor, a bad whence.
	Invalid = Error("argument violates preconditions")
	// NotFound means no such path, directory entry, or filesystem registration
	// exists.
	NotFound = Error("no such file or directory")
	// Exists means the target is already present where absence is required.
	Exists = Error("file exists")
	// NotDir means a non-directory object was used where a directory was
	// required.
	NotDir = Error("not a directory")
	// IsDir means a directory was used where a non-directory was required.
	IsDir = Error("is a directory")
	// NoSpace means there is no free file descriptor, mount slot, cluster, or
	// memory to satisfy the request.
	NoSpace = Error("no space left")
	// IO means the underlying sector read or write failed.
	IO = Error("input/output error")
	// Perm means an access check or sandbox filter rejected the caller.
	Perm = Error("permission denied")
	// NotEmpty means a directory unlink was attempted on a non-empty
	// directory.
	NotEmpty = Error("directory not empty")
)

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}

// WithMessage returns a new error carrying this sentinel's kind but a custom
// message, preserving errors.Is(err, sentinel) compatibility via Unwrap.
func (e Error) WithMessage(message string) error {
	return &detailedError{kind: e, message: message}
}

// WithMessagef is WithMessage with fmt.Sprintf-style formatting.
func (e Error) WithMessagef(format string, args ...any) error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying error to this sentinel, keeping both
// accessible via Unwrap/Is.
func (e Error) Wrap(err error) error {
	if err == nil {
		return e
	}
	return &detailedError{kind: e, message: fmt.Sprintf("%s: %s", e, err.Error()), cause: err}
}

// detailedError pairs a taxonomy sentinel with additional context while
// still satisfying errors.Is(err, <sentinel>).
type detailedError struct {
	kind    Error
	message string
	cause   error
}

func (e *detailedError) Error() string { return e.message }

// Unwrap lets errors.Is/errors.As see through to both the taxonomy sentinel
// and, if present, the wrapped cause.
func (e *detailedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}
