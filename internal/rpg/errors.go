package rpg

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy from §7: not Go types, but a fixed set of
// kinds every caller-facing failure must be classified into.
type ErrorKind string

const (
	KindUnknownEntity         ErrorKind = "UnknownEntity"
	KindUnknownPath           ErrorKind = "UnknownPath"
	KindInvalidHierarchyPath  ErrorKind = "InvalidHierarchyPath"
	KindInvalidDecision       ErrorKind = "InvalidDecision"
	KindStaleRevision         ErrorKind = "StaleRevision"
	KindSchemaMismatch        ErrorKind = "SchemaMismatch"
	KindParseCollaborator     ErrorKind = "ParseCollaboratorError"
	KindEmbeddingCollaborator ErrorKind = "EmbeddingCollaboratorError"
	KindCorruptStore          ErrorKind = "CorruptStore"
	KindConflict              ErrorKind = "Conflict"
)

// Error is a structured failure carrying one of the §7 error kinds plus
// a human-readable message. Wraps an optional underlying cause so
// errors.Is/As still work against stdlib sentinel errors from lower layers.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr constructs an *Error of the given kind.
func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapErr constructs an *Error of the given kind wrapping cause.
func wrapErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err, if it (or something it wraps) is
// an *Error. Returns ("", false) otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
