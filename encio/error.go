package encio

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
)

// Error handling in rmarshal groups every failure into a small set of kinds, each a sentinel error.
// Detailed errors wrap a sentinel, so callers only need to check the kind:
//
//	var formatErr *encio.FormatError
//	switch {
//	case errors.As(err, &formatErr):
//		// bad data at formatErr.Offset
//	case errors.Is(err, encio.ErrUnsupported):
//		// value has no wire shape
//	}
//
// All errors are fatal to the current Dump or Load; there is no partial result.
var (
	// ErrFormat is returned when the read data is impossible to decode:
	// a bad header, truncated data, a bad length claim or a dangling link.
	ErrFormat = errors.New("malformed marshal data")

	// ErrUnsupported is returned when a value has no wire shape and no class name could be found for it.
	ErrUnsupported = errors.New("unsupported value")

	// ErrMissingValue is returned when an explicitly absent value is given for encoding.
	// It is distinct from nil, which encodes as Ruby's nil.
	ErrMissingValue = errors.New("missing value")

	// ErrTooLarge is returned when encoded output would exceed the configured size limit,
	// or a number is too large for the fixed-width parts of the format.
	ErrTooLarge = errors.New("too large")

	// ErrTooDeep is returned when nesting exceeds the configured depth limit.
	ErrTooDeep = errors.New("nesting too deep")
)

// FormatError describes malformed input.
type FormatError struct {
	// Offset is the position in the input where decoding failed.
	Offset  int
	Message string
}

// NewFormatError returns a FormatError at offset, with a stack trace attached.
func NewFormatError(offset int, format string, args ...interface{}) error {
	return errors.WithStackDepth(&FormatError{
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	}, 1)
}

// Error implements error
func (e *FormatError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", ErrFormat, e.Offset, e.Message)
}

// Unwrap implements errors's Unwrap()
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// UnsupportedValueError is returned when a value cannot be encoded.
type UnsupportedValueError struct {
	Type reflect.Type
}

// NewUnsupportedValueError returns an UnsupportedValueError for the type of v.
func NewUnsupportedValueError(v interface{}) error {
	return errors.WithStackDepth(&UnsupportedValueError{Type: reflect.TypeOf(v)}, 1)
}

// Error implements error
func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("%v: cannot dump %v", ErrUnsupported, e.Type)
}

// Unwrap implements errors's Unwrap()
func (e *UnsupportedValueError) Unwrap() error {
	return ErrUnsupported
}

// MissingValueError is returned when an undefined value or nil pointer is presented for encoding.
type MissingValueError struct {
	// Type is the static type of the missing value, or nil for types.Undefined.
	Type reflect.Type
}

// NewMissingValueError returns a MissingValueError for the type of v.
func NewMissingValueError(v interface{}) error {
	return errors.WithStackDepth(&MissingValueError{Type: reflect.TypeOf(v)}, 1)
}

// Error implements error
func (e *MissingValueError) Error() string {
	if e.Type == nil {
		return fmt.Sprintf("%v: undefined cannot be dumped", ErrMissingValue)
	}
	return fmt.Sprintf("%v: nil %v cannot be dumped", ErrMissingValue, e.Type)
}

// Unwrap implements errors's Unwrap()
func (e *MissingValueError) Unwrap() error {
	return ErrMissingValue
}
