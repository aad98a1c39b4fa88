// ABOUTME: Typed dispatch errors carrying an error kind for the HTTP boundary
// ABOUTME: Kinds classify failures; the gateway maps them to status codes

package dispatch

import "fmt"

// Kind classifies a dispatch failure.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnknownTool     Kind = "unknown_tool"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidState    Kind = "invalid_state"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// Error is the failure surface of Invoke. Detail carries structured context
// such as the offending field path or the required states.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds an Error without detail.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
