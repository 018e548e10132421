package interfaces

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced to callers.
type ErrorKind int

const (
	// KindValidation covers bad PIN/password/input format. Detected locally, never after a network call.
	KindValidation ErrorKind = iota + 1
	// KindAuthFailure covers identity and token issuance failures.
	KindAuthFailure
	// KindWrongPin means the PIN did not match and guesses remain.
	KindWrongPin
	// KindLocked means the guess limit is exhausted. Terminal.
	KindLocked
	// KindIntegrityFailure means authenticated decryption failed.
	KindIntegrityFailure
	// KindShareMismatch means the shares could not be combined into a key.
	KindShareMismatch
	// KindRepositoryError means every backup backend failed.
	KindRepositoryError
	// KindQuorumTimeout means not enough realms answered before the deadline.
	KindQuorumTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindAuthFailure:
		return "AuthFailure"
	case KindWrongPin:
		return "WrongPin"
	case KindLocked:
		return "Locked"
	case KindIntegrityFailure:
		return "IntegrityFailure"
	case KindShareMismatch:
		return "ShareMismatch"
	case KindRepositoryError:
		return "RepositoryError"
	case KindQuorumTimeout:
		return "QuorumTimeout"
	default:
		return "Unknown"
	}
}

// Retryable reports whether an operation failing with this kind may be attempted again.
func (k ErrorKind) Retryable() bool {
	return k != KindLocked
}

// Error is the structured error returned across component boundaries.
// Message is safe to show to an end user; Err carries the technical cause.
type Error struct {
	Kind    ErrorKind
	Message string

	// GuessesRemaining is set for KindWrongPin.
	GuessesRemaining int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrLocked) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthFailure      = &Error{Kind: KindAuthFailure}
	ErrWrongPin         = &Error{Kind: KindWrongPin}
	ErrLocked           = &Error{Kind: KindLocked}
	ErrIntegrityFailure = &Error{Kind: KindIntegrityFailure}
	ErrShareMismatch    = &Error{Kind: KindShareMismatch}
	ErrRepository       = &Error{Kind: KindRepositoryError}
	ErrQuorumTimeout    = &Error{Kind: KindQuorumTimeout}
)

func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func WrongPinError(remaining int) *Error {
	return &Error{
		Kind:             KindWrongPin,
		Message:          fmt.Sprintf("incorrect PIN, %d attempts remaining", remaining),
		GuessesRemaining: remaining,
	}
}

// KindOf extracts the kind from err, or 0 if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// AsError returns err as *Error, wrapping untyped errors under fallback.
func AsError(err error, fallback ErrorKind, message string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(fallback, message, err)
}
