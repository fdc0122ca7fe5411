package ext2

import (
	"fmt"

	log "github.com/dsoprea/go-logging"
)

// Kind classifies a failure the way the command-line front end needs to
// report it: which diagnostic to print, which exit behavior to take, and
// whether FORCE=true lets the caller proceed anyway.
type Kind int

const (
	// FormatMismatch covers a bad signature, unsupported version, non-Clean
	// filesystem state, or stale fsck counters. Forcible.
	FormatMismatch Kind = iota
	// UnknownFeature covers a required/optional/write/compression bit set
	// outside the known mask. Forcible.
	UnknownFeature
	// FileTooLarge means the block stream would need a tier beyond TIND.
	FileTooLarge
	// NotFound means a path component is absent.
	NotFound
	// InvalidArgument means a non-absolute path or similar caller mistake.
	InvalidArgument
	// IoError wraps any read or seek failure from the backing file.
	IoError
	// ApiMisuse covers things like requesting a byte stream for a directory.
	ApiMisuse
	// OutOfMemory covers an allocation failure surfaced as an error value.
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case FormatMismatch:
		return "FormatMismatch"
	case UnknownFeature:
		return "UnknownFeature"
	case FileTooLarge:
		return "FileTooLarge"
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case IoError:
		return "IoError"
	case ApiMisuse:
		return "ApiMisuse"
	case OutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// forcible reports whether a Kind may be bypassed by Policy.Force.
func (k Kind) forcible() bool {
	return k == FormatMismatch || k == UnknownFeature
}

// Error is the single error type this package returns. Every fatal
// condition in §7 of the design carries a Kind so callers (and the CLI
// entry point) can decide how to react without string matching.
type Error struct {
	Kind  Kind
	cause error
}

func newError(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, cause: log.Wrap(fmt.Errorf(format, args...))}
}

func wrapError(k Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: k, cause: log.Wrap(cause)}
}

func (e *Error) Error() string {
	if e.Kind.forcible() {
		return fmt.Sprintf("%s: %v (set FORCE=true to bypass)", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Policy is the injected, testable stand-in for what the reference reader
// does with a process-wide FORCE environment variable: it decides whether a
// forcible validation failure should abort or be swallowed.
type Policy struct {
	// Force, when true, allows FormatMismatch and UnknownFeature errors
	// raised during Open to be swallowed instead of aborting the mount.
	Force bool
}

// allow reports whether an error of this Kind should be suppressed.
func (p Policy) allow(k Kind) bool {
	return p.Force && k.forcible()
}

// StrictPolicy rejects every forcible error, matching the reference
// reader's default (unset FORCE) behavior.
func StrictPolicy() Policy { return Policy{Force: false} }

// ForcedPolicy accepts every forcible error, matching FORCE=true.
func ForcedPolicy() Policy { return Policy{Force: true} }
