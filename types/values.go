package types

import (
	"bytes"
	"math"
	"math/big"
	"reflect"
)

// Value is implemented by every wire variant in this package.
// The set is closed; encoders switch over the concrete types.
type Value interface {
	Tag() Tag
	isValue()
}

// Symbol is an interned name.
// Symbols are written once per stream; later occurrences are symlinks.
type Symbol string

// Tag implements Value
func (Symbol) Tag() Tag { return TagSymbol }
func (Symbol) isValue() {}

// IsASCII returns true if the name needs no encoding annotation.
func (s Symbol) IsASCII() bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Integer is a boxed integer.
// It is written as a fixnum when it fits, and as a bignum otherwise.
type Integer int64

// Tag implements Value
func (i Integer) Tag() Tag {
	if FitsFixnum(int64(i)) {
		return TagFixnum
	}
	return TagBignum
}
func (Integer) isValue() {}

// Float is a boxed float with its own identity.
type Float struct {
	Value float64
}

// Tag implements Value
func (*Float) Tag() Tag { return TagFloat }
func (*Float) isValue() {}

// Bignum is a boxed arbitrary-precision integer.
// It is always written as a bignum, even when the value would fit a fixnum.
type Bignum struct {
	big.Int
}

// NewBignum returns a Bignum holding a copy of x.
func NewBignum(x *big.Int) *Bignum {
	b := new(Bignum)
	b.Set(x)
	return b
}

// Tag implements Value
func (*Bignum) Tag() Tag { return TagBignum }
func (*Bignum) isValue() {}

// IVar is a named instance variable, or a struct member.
type IVar struct {
	Name  Symbol
	Value any
}

// String is a byte string with its encoding and any other instance variables.
type String struct {
	Data []byte

	// Encoding is the name of the string's encoding.
	// EncodingBinary means no annotation is written.
	Encoding string

	// IVars holds instance variables other than the encoding.
	IVars []IVar
}

// NewString returns a UTF-8 String.
func NewString(s string) *String {
	return &String{
		Data:     []byte(s),
		Encoding: EncodingUTF8,
	}
}

// Tag implements Value
func (*String) Tag() Tag { return TagString }
func (*String) isValue() {}

// String returns the raw bytes of the string.
func (s *String) String() string { return string(s.Data) }

// Regexp is a regular expression in Ruby's syntax, which Go cannot always compile.
type Regexp struct {
	Source   []byte
	Options  byte
	Encoding string
	IVars    []IVar
}

// Tag implements Value
func (*Regexp) Tag() Tag { return TagRegexp }
func (*Regexp) isValue() {}

// HashEntry is a key-value pair of a Hash.
type HashEntry struct {
	Key   any
	Value any
}

// Hash is an insertion-ordered hash that allows keys of any type, and a default value.
type Hash struct {
	Entries    []HashEntry
	Default    any
	HasDefault bool
	Extends    []Symbol
}

// Tag implements Value
func (h *Hash) Tag() Tag {
	if h.HasDefault {
		return TagHashDef
	}
	return TagHash
}
func (*Hash) isValue() {}

// Len returns the number of entries.
func (h *Hash) Len() int { return len(h.Entries) }

// Get returns the value for key.
func (h *Hash) Get(key any) (any, bool) {
	for _, e := range h.Entries {
		if KeyEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Set sets the value for key.
// An existing key keeps its position and takes the new value.
func (h *Hash) Set(key, value any) {
	for i := range h.Entries {
		if KeyEqual(h.Entries[i].Key, key) {
			h.Entries[i].Value = value
			return
		}
	}
	h.Entries = append(h.Entries, HashEntry{Key: key, Value: value})
}

// SetDefault sets the default value, which makes the hash written as a hash with default.
func (h *Hash) SetDefault(value any) {
	h.Default = value
	h.HasDefault = true
}

// KeyEqual reports whether two hash keys denote the same key.
// Strings, numbers and boxed variants compare by value, other composite values by identity.
func KeyEqual(a, b any) bool {
	switch x := a.(type) {
	case *String:
		y, ok := b.(*String)
		return ok && (x == y || x.Encoding == y.Encoding && bytes.Equal(x.Data, y.Data))
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case *Float:
		y, ok := b.(*Float)
		return ok && (x == y || math.Float64bits(x.Value) == math.Float64bits(y.Value))
	case *Bignum:
		y, ok := b.(*Bignum)
		return ok && (x == y || x.Cmp(&y.Int) == 0)
	case *big.Int:
		y, ok := b.(*big.Int)
		return ok && (x == y || x.Cmp(y) == 0)
	case float64:
		y, ok := b.(float64)
		return ok && math.Float64bits(x) == math.Float64bits(y)
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Slice, reflect.Map:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer() && va.Len() > 0
	}

	if !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}

type stringKey struct {
	encoding string
	data     string
}

type identityKey struct {
	t   reflect.Type
	ptr uintptr
	len int
}

type (
	bytesKey      string
	floatKey      uint64
	boxedFloatKey uint64
	bignumKey     string
	bigIntKey     string
	nilKey        struct{}
)

// indexKey returns a comparable value that two keys share exactly when KeyEqual holds for them.
// It returns false for keys that equal nothing, not even themselves.
func indexKey(key any) (any, bool) {
	switch x := key.(type) {
	case nil:
		return nilKey{}, true
	case *String:
		return stringKey{encoding: x.Encoding, data: string(x.Data)}, true
	case []byte:
		return bytesKey(x), true
	case *Float:
		return boxedFloatKey(math.Float64bits(x.Value)), true
	case *Bignum:
		return bignumKey(x.Text(16)), true
	case *big.Int:
		return bigIntKey(x.Text(16)), true
	case float64:
		return floatKey(math.Float64bits(x)), true
	}

	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		if v.Len() == 0 {
			return nil, false
		}
		return identityKey{t: v.Type(), ptr: v.Pointer(), len: v.Len()}, true
	}
	if !v.Comparable() {
		return nil, false
	}
	return key, true
}

// KeyIndex finds the entries of a Hash by key in constant time while the hash is built.
// It only sees entries added through it.
type KeyIndex struct {
	hash *Hash
	pos  map[any]int
}

// NewKeyIndex returns an index over the entries of h.
func NewKeyIndex(h *Hash) *KeyIndex {
	x := &KeyIndex{
		hash: h,
		pos:  make(map[any]int, len(h.Entries)),
	}
	for i, e := range h.Entries {
		if k, ok := indexKey(e.Key); ok {
			if _, dup := x.pos[k]; !dup {
				x.pos[k] = i
			}
		}
	}
	return x
}

// Set is Hash.Set in constant time.
func (x *KeyIndex) Set(key, value any) {
	k, ok := indexKey(key)
	if !ok {
		x.hash.Entries = append(x.hash.Entries, HashEntry{Key: key, Value: value})
		return
	}
	if i, found := x.pos[k]; found {
		x.hash.Entries[i].Value = value
		return
	}
	x.pos[k] = len(x.hash.Entries)
	x.hash.Entries = append(x.hash.Entries, HashEntry{Key: key, Value: value})
}

// Object is an instance of a class with no Go counterpart.
type Object struct {
	Class   Symbol
	IVars   []IVar
	Extends []Symbol
}

// Tag implements Value
func (*Object) Tag() Tag { return TagObject }
func (*Object) isValue() {}

// Get returns the instance variable called name.
func (o *Object) Get(name Symbol) (any, bool) { return getIVar(o.IVars, name) }

// Set sets the instance variable called name, appending it if it doesn't exist.
func (o *Object) Set(name Symbol, value any) { o.IVars = setIVar(o.IVars, name, value) }

// Struct is an instance of a Ruby Struct class.
// Members are positional; their names carry no '@'.
type Struct struct {
	Class   Symbol
	Members []IVar
	Extends []Symbol
}

// Tag implements Value
func (*Struct) Tag() Tag { return TagStruct }
func (*Struct) isValue() {}

// Get returns the member called name.
func (s *Struct) Get(name Symbol) (any, bool) { return getIVar(s.Members, name) }

// Set sets the member called name, appending it if it doesn't exist.
func (s *Struct) Set(name Symbol, value any) { s.Members = setIVar(s.Members, name, value) }

func getIVar(ivars []IVar, name Symbol) (any, bool) {
	for _, iv := range ivars {
		if iv.Name == name {
			return iv.Value, true
		}
	}
	return nil, false
}

func setIVar(ivars []IVar, name Symbol, value any) []IVar {
	for i := range ivars {
		if ivars[i].Name == name {
			ivars[i].Value = value
			return ivars
		}
	}
	return append(ivars, IVar{Name: name, Value: value})
}

// Class is a reference to a class itself.
type Class struct {
	Name string
}

// Tag implements Value
func (*Class) Tag() Tag { return TagClass }
func (*Class) isValue() {}

// Module is a reference to a module itself.
type Module struct {
	Name string

	// Legacy modules are written with the old module tag, which can also name a class.
	Legacy bool
}

// Tag implements Value
func (m *Module) Tag() Tag {
	if m.Legacy {
		return TagModuleOld
	}
	return TagModule
}
func (*Module) isValue() {}

// Data is a host object wrapping one value, loaded through the class's _load_data.
type Data struct {
	Class   Symbol
	Value   any
	Extends []Symbol
}

// Tag implements Value
func (*Data) Tag() Tag { return TagData }
func (*Data) isValue() {}

// UserClass is a built-in String, Array, Hash or Regexp subclassed by a user class.
// It shares its identity with Value.
type UserClass struct {
	Class   Symbol
	Value   any
	Extends []Symbol
}

// Tag implements Value
func (*UserClass) Tag() Tag { return TagUserClass }
func (*UserClass) isValue() {}

// UserDef is an object that writes its own payload with _dump.
type UserDef struct {
	Class   Symbol
	Payload []byte

	// IVars are attached to the payload string; usually just its encoding.
	IVars   []IVar
	Extends []Symbol
}

// Tag implements Value
func (*UserDef) Tag() Tag { return TagUserDef }
func (*UserDef) isValue() {}

// UserMarshal is an object that substitutes itself with another value using marshal_dump.
type UserMarshal struct {
	Class   Symbol
	Value   any
	Extends []Symbol
}

// Tag implements Value
func (*UserMarshal) Tag() Tag { return TagUserMarshal }
func (*UserMarshal) isValue() {}

// Undefined is an explicitly absent value.
// It cannot be written; nil is written as nil.
type Undefined struct{}

// Extendable is implemented by variants that carry extended modules.
// Extends lists modules in ancestor order, last extended first, as they appear on the wire.
type Extendable interface {
	Value
	ExtendedBy() []Symbol
	Extend(module Symbol)
}

// ExtendedBy implements Extendable
func (h *Hash) ExtendedBy() []Symbol { return h.Extends }

// Extend implements Extendable
func (h *Hash) Extend(m Symbol) { h.Extends = prepend(h.Extends, m) }

// ExtendedBy implements Extendable
func (o *Object) ExtendedBy() []Symbol { return o.Extends }

// Extend implements Extendable
func (o *Object) Extend(m Symbol) { o.Extends = prepend(o.Extends, m) }

// ExtendedBy implements Extendable
func (s *Struct) ExtendedBy() []Symbol { return s.Extends }

// Extend implements Extendable
func (s *Struct) Extend(m Symbol) { s.Extends = prepend(s.Extends, m) }

// ExtendedBy implements Extendable
func (d *Data) ExtendedBy() []Symbol { return d.Extends }

// Extend implements Extendable
func (d *Data) Extend(m Symbol) { d.Extends = prepend(d.Extends, m) }

// ExtendedBy implements Extendable
func (u *UserClass) ExtendedBy() []Symbol { return u.Extends }

// Extend implements Extendable
func (u *UserClass) Extend(m Symbol) { u.Extends = prepend(u.Extends, m) }

// ExtendedBy implements Extendable
func (u *UserDef) ExtendedBy() []Symbol { return u.Extends }

// Extend implements Extendable
func (u *UserDef) Extend(m Symbol) { u.Extends = prepend(u.Extends, m) }

// ExtendedBy implements Extendable
func (u *UserMarshal) ExtendedBy() []Symbol { return u.Extends }

// Extend implements Extendable
func (u *UserMarshal) Extend(m Symbol) { u.Extends = prepend(u.Extends, m) }

// Extend is called as nested extension markers unwind, innermost first,
// so prepending leaves the list in wire order.
func prepend(list []Symbol, m Symbol) []Symbol {
	return append([]Symbol{m}, list...)
}

// RangeClass is the class name of ranges.
const RangeClass Symbol = "Range"

// NewRange returns a Range object.
// Ranges are written as plain objects whose instance variables have no '@'.
func NewRange(begin, end any, exclusive bool) *Object {
	return &Object{
		Class: RangeClass,
		IVars: []IVar{
			{Name: "excl", Value: exclusive},
			{Name: "begin", Value: begin},
			{Name: "end", Value: end},
		},
	}
}
