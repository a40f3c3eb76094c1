// Package rmarshal reads and writes Ruby's Marshal format, version 4.8, byte for byte as Ruby does.
//
// Values map to Go as follows:
//
//	nil, true, false     nil, bool
//	fixnum, bignum       int, *big.Int (types.Integer, *types.Bignum when boxed)
//	float                float64 (*types.Float when boxed)
//	symbol               types.Symbol
//	string               string, []byte or *types.String, see StringMode
//	array                []any
//	hash                 *types.Hash, map[any]any or map[string]any, see HashMode
//	regexp               *types.Regexp or *regexp.Regexp
//	object, struct       registered Go structs, or *types.Object and *types.Struct
//
// Any slice, array, map or integer type can be dumped. Structs need a class name, from Register or Config.NameUnknown.
// Shared and cyclic values are written once and linked, and load back shared.
//
// rmarshal/types holds the wire model, and rmarshal/encio the byte-level codecs and the error kinds.
package rmarshal

import (
	"github.com/stewi1014/rmarshal/types"
)

// Dump returns v in the Marshal format.
func Dump(v any, config *Config) ([]byte, error) {
	enc := NewEncoder(config)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// DumpAll returns the concatenated streams of every value in vs.
// Each stream is independent; values shared between them are written in full each time.
func DumpAll(vs []any, config *Config) ([]byte, error) {
	enc := NewEncoder(config)
	for _, v := range vs {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return enc.Bytes(), nil
}

// Load returns the value of the first stream in data.
func Load(data []byte, config *Config) (any, error) {
	return NewDecoder(data, config).Decode()
}

// LoadAll returns the values of every stream in data.
func LoadAll(data []byte, config *Config) ([]any, error) {
	dec := NewDecoder(data, config)
	var vs []any
	for {
		v, err := dec.Decode()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
		if !dec.More() {
			return vs, nil
		}
	}
}

// RegisteredClasses returns the class names in types.DefaultRegistry.
func RegisteredClasses() []types.Symbol {
	return types.DefaultRegistry.Classes()
}
