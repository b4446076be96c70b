// Package errs classifies the failures raised while ingesting, reducing and
// archiving images. Every error aborts the invocation; the kind only tells the
// caller what went wrong.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind uint8

const (
	// KindUnknown is reported for errors that were not raised by this module.
	KindUnknown Kind = iota

	// KindType means an array's element type category (integer or floating)
	// does not match what the operation requires.
	KindType

	// KindShape means an array's rank or extent is not acceptable, such as a
	// single-frame image with a volumetric rank.
	KindShape

	// KindResource means a file could not be opened, read or decoded.
	KindResource

	// KindValue means an argument violates a precondition, such as a
	// degenerate scaling range or a duplicate archive entry.
	KindValue
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindShape:
		return "shape"
	case KindResource:
		return "resource"
	case KindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "quantisation.scale".
	Op string
	// Path is the file involved, if any.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind with no Op, which
// lets the package-level sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrType     = &Error{Kind: KindType}
	ErrShape    = &Error{Kind: KindShape}
	ErrResource = &Error{Kind: KindResource}
	ErrValue    = &Error{Kind: KindValue}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Type builds a KindType error.
func Type(op, format string, args ...any) error {
	return &Error{Kind: KindType, Op: op, Err: fmt.Errorf(format, args...)}
}

// Shape builds a KindShape error.
func Shape(op, format string, args ...any) error {
	return &Error{Kind: KindShape, Op: op, Err: fmt.Errorf(format, args...)}
}

// Value builds a KindValue error.
func Value(op, format string, args ...any) error {
	return &Error{Kind: KindValue, Op: op, Err: fmt.Errorf(format, args...)}
}

// Resource wraps err as a KindResource failure on path. A nil err yields nil.
func Resource(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return err
	}
	return &Error{Kind: KindResource, Op: op, Path: path, Err: err}
}
