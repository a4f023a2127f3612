// Package perrors defines the error taxonomy the core surfaces to callers.
//
// Kinds follow a deliberate propagation policy: input errors never
// retry, capacity errors may be retried by the caller, dependency errors
// degrade to a stale marker rather than failing the write, and fatal
// errors stop the node from accepting further writes.
package perrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that want to branch on it without
// string matching.
type Kind string

const (
	KindSchemaInvalid         Kind = "SchemaInvalid"
	KindSchemaUnknown         Kind = "SchemaUnknown"
	KindSchemaConflict        Kind = "SchemaConflict"
	KindValidationFailed      Kind = "ValidationFailed"
	KindBadQuery              Kind = "BadQuery"
	KindNotFound              Kind = "NotFound"
	KindOverloaded            Kind = "Overloaded"
	KindTimeout               Kind = "Timeout"
	KindDependencyUnavailable Kind = "DependencyUnavailable"
	KindFatalCorruption       Kind = "FatalCorruption"
)

// Error is the concrete type returned for every taxonomy member. Use Is/As
// with the Err* sentinels below, or KindOf/IsKind, to test for a specific
// kind.
type Error struct {
	Kind    Kind
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

// Is allows errors.Is(err, perrors.NotFound) style checks against the
// sentinel values below (which carry an empty Message/Cause).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Constructors, one per kind, each wrapping the underlying cause with
// %w-equivalent context.
func SchemaInvalid(msg string, cause error) error  { return new_(KindSchemaInvalid, msg, cause) }
func SchemaUnknown(msg string) error               { return new_(KindSchemaUnknown, msg, nil) }
func SchemaConflict(msg string) error              { return new_(KindSchemaConflict, msg, nil) }
func ValidationFailed(msg string, cause error) error {
	return new_(KindValidationFailed, msg, cause)
}
func BadQuery(msg string) error                     { return new_(KindBadQuery, msg, nil) }
func NotFound(msg string) error                      { return new_(KindNotFound, msg, nil) }
func Overloaded(msg string) error                    { return new_(KindOverloaded, msg, nil) }
func Timeout(msg string) error                       { return new_(KindTimeout, msg, nil) }
func DependencyUnavailable(msg string, cause error) error {
	return new_(KindDependencyUnavailable, msg, cause)
}
func FatalCorruption(msg string, cause error) error {
	return new_(KindFatalCorruption, msg, cause)
}

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, perrors.ErrNotFound).
var (
	ErrSchemaInvalid         = &Error{Kind: KindSchemaInvalid}
	ErrSchemaUnknown         = &Error{Kind: KindSchemaUnknown}
	ErrSchemaConflict        = &Error{Kind: KindSchemaConflict}
	ErrValidationFailed      = &Error{Kind: KindValidationFailed}
	ErrBadQuery              = &Error{Kind: KindBadQuery}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrOverloaded            = &Error{Kind: KindOverloaded}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrFatalCorruption       = &Error{Kind: KindFatalCorruption}
)

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err's Kind equals k.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
