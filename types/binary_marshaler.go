package types

import (
	"encoding"
	"reflect"

	"github.com/cockroachdb/errors"
)

var (
	BinaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	BinaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	RubyMarshalerType     = reflect.TypeOf((*RubyMarshaler)(nil)).Elem()
	RubyUnmarshalerType   = reflect.TypeOf((*RubyUnmarshaler)(nil)).Elem()
)

// RubyMarshaler is implemented by types that substitute themselves with another value when written,
// like Ruby's marshal_dump.
type RubyMarshaler interface {
	MarshalRuby() (any, error)
}

// RubyUnmarshaler is implemented by types that load themselves from the substituted value,
// like Ruby's marshal_load. It is also used for the wrapped value of data objects.
type RubyUnmarshaler interface {
	UnmarshalRuby(v any) error
}

// IVarSetter is implemented by types that take instance variables themselves,
// instead of having them set on struct fields.
type IVarSetter interface {
	SetIVar(name Symbol, value any) error
}

// ImplementsBinaryMarshaler returns a helpful error if the given type does not implement both
// encoding.BinaryMarshaler and encoding.BinaryUnmarshaler.
func ImplementsBinaryMarshaler(t reflect.Type) error {
	if !t.Implements(BinaryMarshalerType) {
		return errors.Newf("%v does not implement encoding.BinaryMarshaler", t)
	}
	if !t.Implements(BinaryUnmarshalerType) {
		return errors.Newf("%v does not implement encoding.BinaryUnmarshaler", t)
	}
	return nil
}

// ImplementsRubyMarshaler returns a helpful error if the given type implements RubyMarshaler but not RubyUnmarshaler,
// so its values could be written but never loaded back.
func ImplementsRubyMarshaler(t reflect.Type) error {
	if t.Implements(RubyMarshalerType) && !t.Implements(RubyUnmarshalerType) {
		return errors.Newf("%v implements RubyMarshaler but not RubyUnmarshaler", t)
	}
	return nil
}
