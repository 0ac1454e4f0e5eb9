// Package errs defines the error taxonomy shared by every schema and codec
// package in this module. Each error carries a Kind drawn from a closed set
// so callers can branch on category with errors.As without parsing message
// text, plus an optional source locator (Line/Column for schema text,
// Offset for wire data) and a FieldPath naming the component being
// processed when the error occurred.
package errs

import (
	"fmt"
)

// Kind identifies the category of a Blink error.
type Kind string

// The six error kinds named by the error handling design. WeakError is the
// only kind whose strength is configurable (strict vs permissive decode);
// the rest are always strong.
const (
	ParseError        Kind = "ParseError"
	ResolveError      Kind = "ResolveError"
	FramingError      Kind = "FramingError"
	ValueError        Kind = "ValueError"
	WeakError         Kind = "WeakError"
	SchemaUpdateError Kind = "SchemaUpdateError"
)

// Error is the concrete error type returned by every package in this
// module. Line/Column and Offset are mutually exclusive: schema-text
// errors set Line/Column, wire-data errors set Offset.
type Error struct {
	Kind      Kind
	Message   string
	FieldPath string
	Line      int
	Column    int
	Offset    int64
	hasPos    bool
	hasOffset bool
	err       error
}

func (e *Error) Error() string {
	var loc string
	switch {
	case e.hasPos:
		loc = fmt.Sprintf(" at %d:%d", e.Line, e.Column)
	case e.hasOffset:
		loc = fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.FieldPath != "" {
		loc += " (" + e.FieldPath + ")"
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, e.Message, loc)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.WeakError) style checks against a bare Kind by
// wrapping it first with errs.Of.
func (e *Error) Is(target error) bool {
	o, ok := target.(*Error)
	if !ok {
		return false
	}
	if o.Message == "" && !o.hasPos && !o.hasOffset && o.FieldPath == "" {
		return e.Kind == o.Kind
	}
	return false
}

// Of builds a bare sentinel of the given kind, usable with errors.Is.
func Of(k Kind) *Error { return &Error{Kind: k} }

// WithField returns a copy of e with FieldPath set, for annotating an error
// as it unwinds back up through nested groups/fields.
func (e *Error) WithField(path string) *Error {
	n := *e
	if n.FieldPath == "" {
		n.FieldPath = path
	} else {
		n.FieldPath = path + "." + n.FieldPath
	}
	return &n
}

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Parse constructs a ParseError for malformed schema text at line/column.
func Parse(line, col int, format string, args ...any) *Error {
	e := newf(ParseError, format, args...)
	e.Line, e.Column, e.hasPos = line, col, true
	return e
}

// Resolve constructs a ResolveError: unknown reference, inheritance cycle,
// duplicate type id, illegal nested sequence, and similar schema-resolution
// failures that are only detectable once the whole schema is assembled.
func Resolve(format string, args ...any) *Error {
	return newf(ResolveError, format, args...)
}

// Framing constructs a FramingError at a byte offset into the wire buffer:
// truncated input, frame-size mismatch, an invalid VLC terminator, or a
// Native Binary pointer that falls outside the frame.
func Framing(offset int64, format string, args ...any) *Error {
	e := newf(FramingError, format, args...)
	e.Offset, e.hasOffset = offset, true
	return e
}

// Value constructs a ValueError: a required field is missing, a fixed-size
// value doesn't match its declared size, a decimal mantissa overflows, or
// some other value-domain violation that is always fatal regardless of
// strictness.
func Value(format string, args ...any) *Error {
	return newf(ValueError, format, args...)
}

// Weak constructs a WeakError at a byte offset: an unknown type id, invalid
// UTF-8, an out-of-range integer, an unmapped enum value, a dynamic-group
// base-type mismatch, or a string/binary exceeding its declared maximum.
// Whether this aborts decoding or is recovered with a zero/default value
// depends on the caller's strict flag; see Recoverable.
func Weak(offset int64, format string, args ...any) *Error {
	e := newf(WeakError, format, args...)
	e.Offset, e.hasOffset = offset, true
	return e
}

// SchemaUpdate constructs a SchemaUpdateError: a Dynamic Schema Exchange
// message violates a registry invariant (duplicate name, unknown base,
// reserved id collision).
func SchemaUpdate(format string, args ...any) *Error {
	return newf(SchemaUpdateError, format, args...)
}

// Recoverable reports whether err is a WeakError, i.e. the only kind a
// permissive decode is allowed to recover from.
func Recoverable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == WeakError
}

// Wrap attaches an underlying cause to e, preserving it for errors.Unwrap
// while keeping e.Kind and e.Message as the public-facing summary.
func (e *Error) Wrap(cause error) *Error {
	n := *e
	n.err = cause
	return &n
}
