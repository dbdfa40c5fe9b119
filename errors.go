// Package pathauditor detects time-of-check-to-time-of-use filesystem
// vulnerabilities by walking the paths of filesystem-mutating syscalls
// and deciding whether any component could be replaced by an
// unprivileged user.
package pathauditor

import "errors"

// Error definitions. All errors returned by this package wrap one of
// these sentinels so callers can classify them with errors.Is.
var (
	// ErrOutOfRange is returned by FileEvent accessors when the index is
	// past the end of the argument sequence.
	ErrOutOfRange = errors.New("argument index out of range")

	// ErrFailedPrecondition is returned when an underlying syscall during
	// a walk failed in a way that prevents classification.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrResourceExhausted is returned when a walk processes more
	// components than its iteration cap allows. This is the symlink-loop
	// guard.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrUnimplemented is returned by the dispatcher for syscall numbers
	// it has no policy for.
	ErrUnimplemented = errors.New("unimplemented")
)
