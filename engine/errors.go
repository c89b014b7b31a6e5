package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers never have to sniff message text.
// Every error produced inside the engine carries a Kind at its point of origin.
type Kind string

const (
	KindNoRecipients Kind = "no_recipients"
	KindTemplate     Kind = "template"
	KindNotFound     Kind = "not_found"
	KindPermission   Kind = "permission"
	KindConnection   Kind = "connection"
	KindEmail        Kind = "email"
	KindAttribute    Kind = "attribute" // missing field on a record
	KindType         Kind = "type"      // bad configuration value
	KindUnknown      Kind = "unknown"
)

// Error is an engine error carrying its classification and the component
// and operation it came from.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Err       error
	Message   string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// newError creates a classified error with the standard
// "component.op: action failed: ..." message shape.
func newError(kind Kind, component, op string, err error, action string) *Error {
	msg := fmt.Sprintf("%s.%s: %s failed", component, op, action)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Op:        op,
		Err:       err,
		Message:   msg,
	}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapKind wraps err with a classification and context. Returns nil if err is nil.
func WrapKind(kind Kind, err error, component, op, action string) error {
	if err == nil {
		return nil
	}
	return newError(kind, component, op, err, action)
}

// KindOf returns the classification of err, or KindUnknown for errors
// that did not originate inside the engine.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
