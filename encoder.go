package rmarshal

import (
	"encoding"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/stewi1014/rmarshal/encio"
	"github.com/stewi1014/rmarshal/types"
)

// NewEncoder returns a new Encoder.
func NewEncoder(config *Config) *Encoder {
	config = config.copyAndFill()
	return &Encoder{
		config:    config,
		buff:      encio.NewBuffer(64, config.MaxSize),
		symbols:   make(map[types.Symbol]int),
		objects:   make(map[identity]int),
		floats:    make(map[uint64]int),
		encodings: make(map[string]int),
	}
}

// Encoder writes values in the Marshal format.
// Each call to Encode writes one complete stream; symbols and objects are never linked across calls.
// It is not safe for concurrent use.
type Encoder struct {
	config *Config
	buff   *encio.Buffer

	symbols   map[types.Symbol]int
	objects   map[identity]int
	floats    map[uint64]int
	encodings map[string]int
	nobjects  int
	depth     int
}

// identity is the key of a value with reference semantics.
// Slices are keyed by type, start and length, so different views of one array stay distinct.
type identity struct {
	ty  reflect.Type
	ptr uintptr
	len int
}

// Encode appends a stream holding v.
// On error, nothing is appended.
func (e *Encoder) Encode(v any) error {
	e.resetTables()
	start := e.buff.Len()

	_, err := e.buff.Write(encio.Header())
	if err == nil {
		err = e.encode(v)
	}
	if err != nil {
		e.buff.Truncate(start)
		return err
	}
	return nil
}

// Bytes returns the streams written so far.
func (e *Encoder) Bytes() []byte {
	return e.buff.Bytes()
}

// Reset discards everything written.
func (e *Encoder) Reset() {
	e.buff.Reset()
}

func (e *Encoder) resetTables() {
	for k := range e.symbols {
		delete(e.symbols, k)
	}
	for k := range e.objects {
		delete(e.objects, k)
	}
	for k := range e.floats {
		delete(e.floats, k)
	}
	for k := range e.encodings {
		delete(e.encodings, k)
	}
	e.nobjects = 0
	e.depth = 0
}

func (e *Encoder) byte(t types.Tag) error {
	return e.buff.WriteByte(byte(t))
}

// link writes a link if the value has been written before.
func (e *Encoder) link(id identity) (bool, error) {
	index, ok := e.objects[id]
	if !ok {
		return false, nil
	}
	if err := e.byte(types.TagLink); err != nil {
		return true, err
	}
	return true, e.buff.WriteLong(int64(index))
}

// register assigns the next object slot to id.
// Values without identity pass the zero identity and still take a slot.
func (e *Encoder) register(id identity) int {
	index := e.nobjects
	e.nobjects++
	if id.ty != nil {
		e.objects[id] = index
	}
	return index
}

// alias makes id refer to an already assigned slot.
func (e *Encoder) alias(id identity, index int) {
	if id.ty != nil {
		e.objects[id] = index
	}
}

// identityOf returns the identity of values with reference semantics, and the zero identity for others.
func identityOf(v any) identity {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map:
		if rv.IsNil() {
			return identity{}
		}
		return identity{ty: rv.Type(), ptr: rv.Pointer()}
	case reflect.Slice:
		if rv.Len() == 0 {
			return identity{}
		}
		return identity{ty: rv.Type(), ptr: rv.Pointer(), len: rv.Len()}
	}
	return identity{}
}

func (e *Encoder) encode(v any) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.config.MaxDepth {
		return errors.Wrapf(encio.ErrTooDeep, "more than %d levels", e.config.MaxDepth)
	}

	switch v := v.(type) {
	case nil:
		return e.byte(types.TagNil)
	case bool:
		if v {
			return e.byte(types.TagTrue)
		}
		return e.byte(types.TagFalse)
	case types.Undefined:
		return encio.NewMissingValueError(nil)
	case types.Symbol:
		return e.writeSymbol(v)
	case types.Integer:
		return e.writeInt(int64(v))
	case int:
		return e.writeInt(int64(v))
	case int64:
		return e.writeInt(v)
	case int32:
		return e.writeInt(int64(v))
	case float64:
		return e.writeFloat(v)
	case float32:
		return e.writeFloat(float64(v))
	case string:
		if e.config.Strings == StringBinary {
			return e.writeStringLike(identity{}, []byte(v), types.EncodingBinary, nil, "", nil)
		}
		return e.writeStringLike(identity{}, []byte(v), types.EncodingUTF8, nil, "", nil)
	case []byte:
		return e.writeStringLike(identityOf(v), v, types.EncodingBinary, nil, "", nil)
	case types.CompositeKey:
		key, err := v.Value()
		if err != nil {
			return err
		}
		return e.encode(key)
	}

	if isNilPointer(v) {
		return encio.NewMissingValueError(v)
	}

	switch v := v.(type) {
	case *types.Float:
		return e.writeBoxedFloat(v)
	case *types.Bignum:
		return e.writeBignum(identityOf(v), &v.Int)
	case *big.Int:
		if v.IsInt64() && types.FitsFixnum(v.Int64()) {
			return e.writeInt(v.Int64())
		}
		return e.writeBignum(identityOf(v), v)
	case big.Int:
		return e.encode(&v)
	case *types.String:
		return e.writeStringLike(identityOf(v), v.Data, v.Encoding, v.IVars, "", nil)
	case *types.Regexp:
		return e.writeRegexp(identityOf(v), v, "", nil)
	case *regexp.Regexp:
		return e.writeRegexp(identityOf(v), goRegexp(v), "", nil)
	case []any:
		return e.writeArray(reflect.ValueOf(v), "", nil)
	case *types.Hash:
		return e.writeHash(v, "", nil)
	case *types.Object:
		return e.writeObject(v)
	case *types.Struct:
		return e.writeStruct(v)
	case *types.Class:
		return e.writeNamed(v, types.TagClass, v.Name)
	case *types.Module:
		return e.writeNamed(v, v.Tag(), v.Name)
	case *types.Data:
		return e.writeWrapped(v, types.TagData, v.Class, v.Extends, v.Value)
	case *types.UserMarshal:
		return e.writeWrapped(v, types.TagUserMarshal, v.Class, v.Extends, v.Value)
	case *types.UserClass:
		return e.writeUserClass(v)
	case *types.UserDef:
		return e.writeUserDef(identityOf(v), v.Class, v.Extends, v.Payload, v.IVars)
	case types.DefaultKey:
		return errors.Wrap(encio.NewUnsupportedValueError(v), "hash default key outside of a hash")
	}

	if class, ok := e.config.Classes.ClassName(v); ok {
		return e.writeClassed(v, class)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return e.encode(new(big.Int).SetUint64(u))
		}
		return e.writeInt(int64(u))
	case reflect.Float32, reflect.Float64:
		return e.writeFloat(rv.Float())
	case reflect.Bool:
		return e.encode(rv.Bool())
	case reflect.String:
		return e.encode(rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeStringLike(identityOf(v), rv.Bytes(), types.EncodingBinary, nil, "", nil)
		}
		return e.writeArray(rv, "", nil)
	case reflect.Array:
		return e.writeArray(rv, "", nil)
	case reflect.Map:
		return e.writeMap(rv, "", nil)
	case reflect.Ptr:
		if rv.Elem().Kind() == reflect.Struct {
			return e.writeUnknown(v)
		}
		return e.encode(rv.Elem().Interface())
	case reflect.Struct:
		return e.writeUnknown(v)
	}

	return encio.NewUnsupportedValueError(v)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// writeUnknown writes a struct the class resolver doesn't know, if NameUnknown names it.
func (e *Encoder) writeUnknown(v any) error {
	if e.config.NameUnknown != nil {
		if class, ok := e.config.NameUnknown(v); ok {
			return e.writeClassed(v, class)
		}
	}
	return encio.NewUnsupportedValueError(v)
}

func (e *Encoder) writeSymbol(sym types.Symbol) error {
	if index, ok := e.symbols[sym]; ok {
		if err := e.byte(types.TagSymlink); err != nil {
			return err
		}
		return e.buff.WriteLong(int64(index))
	}
	e.symbols[sym] = len(e.symbols)

	ascii := sym.IsASCII()
	if !ascii {
		if err := e.byte(types.TagIVar); err != nil {
			return err
		}
	}
	if err := e.byte(types.TagSymbol); err != nil {
		return err
	}
	if err := e.buff.WriteBytes([]byte(sym)); err != nil {
		return err
	}
	if ascii {
		return nil
	}
	if err := e.buff.WriteLong(1); err != nil {
		return err
	}
	return e.writeEncoding(types.EncodingUTF8)
}

func (e *Encoder) writeInt(n int64) error {
	if !types.FitsFixnum(n) {
		return e.writeBignum(identity{}, big.NewInt(n))
	}
	if err := e.byte(types.TagFixnum); err != nil {
		return err
	}
	return e.buff.WriteLong(n)
}

func (e *Encoder) writeBignum(id identity, x *big.Int) error {
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)
	if err := e.byte(types.TagBignum); err != nil {
		return err
	}
	return e.buff.WriteBignum(x)
}

// writeFloat writes an unboxed float. Equal floats share a slot, as Ruby's immediate floats do.
// Ruby links heap floats, those outside the flonum range like 1e100, by identity instead.
func (e *Encoder) writeFloat(f float64) error {
	bits := math.Float64bits(f)
	if index, ok := e.floats[bits]; ok {
		if err := e.byte(types.TagLink); err != nil {
			return err
		}
		return e.buff.WriteLong(int64(index))
	}
	e.floats[bits] = e.register(identity{})
	return e.writeFloatBody(f)
}

func (e *Encoder) writeBoxedFloat(f *types.Float) error {
	id := identityOf(f)
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)
	return e.writeFloatBody(f.Value)
}

func (e *Encoder) writeFloatBody(f float64) error {
	if err := e.byte(types.TagFloat); err != nil {
		return err
	}
	return e.buff.WriteBytes([]byte(encio.FormatFloat(f)))
}

func (e *Encoder) writeExtends(extends []types.Symbol) error {
	for _, m := range extends {
		if err := e.byte(types.TagExtended); err != nil {
			return err
		}
		if err := e.writeSymbol(m); err != nil {
			return err
		}
	}
	return nil
}

// writeUserClassName writes the user class marker, if there is one.
func (e *Encoder) writeUserClassName(class types.Symbol) error {
	if class == "" {
		return nil
	}
	if err := e.byte(types.TagUserClass); err != nil {
		return err
	}
	return e.writeSymbol(class)
}

// writeStringLike writes a string wrapped in an instance variable envelope when it has an encoding or other instance variables.
// The envelope comes first, then extended modules and the user class, then the string, then its instance variables.
func (e *Encoder) writeStringLike(id identity, data []byte, enc string, ivars []types.IVar, uclass types.Symbol, extends []types.Symbol) error {
	if uclass == "" {
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)
	}

	hasIV := enc != types.EncodingBinary || len(ivars) > 0
	if hasIV {
		if err := e.byte(types.TagIVar); err != nil {
			return err
		}
	}
	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.writeUserClassName(uclass); err != nil {
		return err
	}
	if err := e.byte(types.TagString); err != nil {
		return err
	}
	if err := e.buff.WriteBytes(data); err != nil {
		return err
	}
	if !hasIV {
		return nil
	}
	return e.writeIVars(enc, ivars)
}

// writeIVars writes the instance variable count, the encoding if any, then the other instance variables.
func (e *Encoder) writeIVars(enc string, ivars []types.IVar) error {
	n := len(ivars)
	if enc != types.EncodingBinary {
		n++
	}
	if err := e.buff.WriteLong(int64(n)); err != nil {
		return err
	}
	if enc != types.EncodingBinary {
		if err := e.writeEncoding(enc); err != nil {
			return err
		}
	}
	for _, iv := range ivars {
		if err := e.writeSymbol(iv.Name); err != nil {
			return err
		}
		if err := e.encode(iv.Value); err != nil {
			return err
		}
	}
	return nil
}

// writeEncoding writes the encoding instance variable.
// Names other than UTF-8 and US-ASCII are written as a string object, once per stream.
func (e *Encoder) writeEncoding(enc string) error {
	switch enc {
	case types.EncodingUTF8:
		if err := e.writeSymbol(types.IVarEncodingShort); err != nil {
			return err
		}
		return e.byte(types.TagTrue)
	case types.EncodingASCII:
		if err := e.writeSymbol(types.IVarEncodingShort); err != nil {
			return err
		}
		return e.byte(types.TagFalse)
	}

	if err := e.writeSymbol(types.IVarEncoding); err != nil {
		return err
	}
	if index, ok := e.encodings[enc]; ok {
		if err := e.byte(types.TagLink); err != nil {
			return err
		}
		return e.buff.WriteLong(int64(index))
	}
	e.encodings[enc] = e.register(identity{})
	if err := e.byte(types.TagString); err != nil {
		return err
	}
	return e.buff.WriteBytes([]byte(enc))
}

// goRegexp converts a compiled Go regular expression. Go flags stay inline in the source.
func goRegexp(re *regexp.Regexp) *types.Regexp {
	source := re.String()
	enc := types.EncodingASCII
	for i := 0; i < len(source); i++ {
		if source[i] >= utf8.RuneSelf {
			enc = types.EncodingUTF8
			break
		}
	}
	return &types.Regexp{
		Source:   []byte(source),
		Encoding: enc,
	}
}

func (e *Encoder) writeRegexp(id identity, re *types.Regexp, uclass types.Symbol, extends []types.Symbol) error {
	if uclass == "" {
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)
	}

	hasIV := re.Encoding != types.EncodingBinary || len(re.IVars) > 0
	if hasIV {
		if err := e.byte(types.TagIVar); err != nil {
			return err
		}
	}
	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.writeUserClassName(uclass); err != nil {
		return err
	}
	if err := e.byte(types.TagRegexp); err != nil {
		return err
	}
	if err := e.buff.WriteBytes(re.Source); err != nil {
		return err
	}
	if err := e.buff.WriteByte(re.Options); err != nil {
		return err
	}
	if !hasIV {
		return nil
	}
	return e.writeIVars(re.Encoding, re.IVars)
}

func (e *Encoder) writeArray(rv reflect.Value, uclass types.Symbol, extends []types.Symbol) error {
	if uclass == "" {
		id := identityOf(rv.Interface())
		if rv.Kind() == reflect.Array {
			id = identity{}
		}
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)
	}

	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.writeUserClassName(uclass); err != nil {
		return err
	}
	if err := e.byte(types.TagArray); err != nil {
		return err
	}
	if err := e.buff.WriteLong(int64(rv.Len())); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.encode(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeHash(h *types.Hash, uclass types.Symbol, extends []types.Symbol) error {
	if uclass == "" {
		id := identityOf(h)
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)
	}
	return e.writeHashBody(h, uclass, extends)
}

func (e *Encoder) writeHashBody(h *types.Hash, uclass types.Symbol, extends []types.Symbol) error {
	if len(h.Extends) > 0 {
		extends = append(append([]types.Symbol(nil), extends...), h.Extends...)
	}
	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.writeUserClassName(uclass); err != nil {
		return err
	}
	if err := e.byte(h.Tag()); err != nil {
		return err
	}
	if err := e.buff.WriteLong(int64(len(h.Entries))); err != nil {
		return err
	}
	for _, entry := range h.Entries {
		if err := e.encode(entry.Key); err != nil {
			return err
		}
		if err := e.encode(entry.Value); err != nil {
			return err
		}
	}
	if h.HasDefault {
		return e.encode(h.Default)
	}
	return nil
}

// writeMap writes a Go map as a hash. Go maps have no order, so entries are sorted by their synthetic key text.
// A types.DefaultKey entry is the default value, and in HashStringKeyed mode string keys are decoded synthetic keys.
func (e *Encoder) writeMap(rv reflect.Value, uclass types.Symbol, extends []types.Symbol) error {
	if uclass == "" {
		id := identityOf(rv.Interface())
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)
	}

	h := new(types.Hash)
	sortKeys := make([]string, 0, rv.Len())
	decodeKeys := e.config.Hashes == HashStringKeyed && rv.Type().Key().Kind() == reflect.String

	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().Interface()
		if decodeKeys {
			decoded, err := types.DecodeKey(iter.Key().String())
			if err != nil {
				return err
			}
			key = decoded
		}

		if _, ok := key.(types.DefaultKey); ok {
			h.SetDefault(iter.Value().Interface())
			continue
		}

		h.Entries = append(h.Entries, types.HashEntry{Key: key, Value: iter.Value().Interface()})
		sortKey, err := types.EncodeKey(key)
		if err != nil {
			sortKey = reflect.TypeOf(key).String()
		}
		sortKeys = append(sortKeys, sortKey)
	}

	sort.Sort(byKey{entries: h.Entries, keys: sortKeys})
	return e.writeHashBody(h, uclass, extends)
}

type byKey struct {
	entries []types.HashEntry
	keys    []string
}

func (b byKey) Len() int           { return len(b.keys) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
	b.entries[i], b.entries[j] = b.entries[j], b.entries[i]
}

// ivarName reverses the instance variable name conversion of the IVars mode.
func (e *Encoder) ivarName(name types.Symbol) types.Symbol {
	if strings.HasPrefix(string(name), "@") {
		return name
	}
	switch e.config.IVars {
	case IVarPrefix:
		if rest, ok := strings.CutPrefix(string(name), e.config.IVarPrefix); ok {
			return types.Symbol("@" + rest)
		}
	case IVarStrip:
		return "@" + name
	}
	return name
}

func (e *Encoder) writeObject(o *types.Object) error {
	id := identityOf(o)
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)

	if err := e.writeExtends(o.Extends); err != nil {
		return err
	}
	if err := e.byte(types.TagObject); err != nil {
		return err
	}
	if err := e.writeSymbol(o.Class); err != nil {
		return err
	}
	if err := e.buff.WriteLong(int64(len(o.IVars))); err != nil {
		return err
	}
	for _, iv := range o.IVars {
		if err := e.writeSymbol(e.ivarName(iv.Name)); err != nil {
			return err
		}
		if err := e.encode(iv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeStruct(s *types.Struct) error {
	id := identityOf(s)
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)

	if err := e.writeExtends(s.Extends); err != nil {
		return err
	}
	if err := e.byte(types.TagStruct); err != nil {
		return err
	}
	if err := e.writeSymbol(s.Class); err != nil {
		return err
	}
	if err := e.buff.WriteLong(int64(len(s.Members))); err != nil {
		return err
	}
	for _, m := range s.Members {
		if err := e.writeSymbol(m.Name); err != nil {
			return err
		}
		if err := e.encode(m.Value); err != nil {
			return err
		}
	}
	return nil
}

// writeNamed writes a class or module reference.
func (e *Encoder) writeNamed(v any, tag types.Tag, name string) error {
	id := identityOf(v)
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)

	if err := e.byte(tag); err != nil {
		return err
	}
	return e.buff.WriteBytes([]byte(name))
}

// writeWrapped writes data and user marshal objects; both take a slot before the wrapped value.
func (e *Encoder) writeWrapped(v any, tag types.Tag, class types.Symbol, extends []types.Symbol, inner any) error {
	id := identityOf(v)
	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)

	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.byte(tag); err != nil {
		return err
	}
	if err := e.writeSymbol(class); err != nil {
		return err
	}
	return e.encode(inner)
}

// writeUserClass writes a subclassed built-in. It is one object with the value it wraps, so they share a slot.
func (e *Encoder) writeUserClass(uc *types.UserClass) error {
	id := identityOf(uc)
	if linked, err := e.link(id); linked {
		return err
	}
	index := e.register(id)

	inner := uc.Value
	if isNilPointer(inner) {
		return encio.NewMissingValueError(inner)
	}
	e.alias(identityOf(inner), index)

	switch v := inner.(type) {
	case string:
		return e.writeStringLike(identity{}, []byte(v), types.EncodingUTF8, nil, uc.Class, uc.Extends)
	case []byte:
		return e.writeStringLike(identity{}, v, types.EncodingBinary, nil, uc.Class, uc.Extends)
	case *types.String:
		return e.writeStringLike(identity{}, v.Data, v.Encoding, v.IVars, uc.Class, uc.Extends)
	case *types.Regexp:
		return e.writeRegexp(identity{}, v, uc.Class, uc.Extends)
	case *regexp.Regexp:
		return e.writeRegexp(identity{}, goRegexp(v), uc.Class, uc.Extends)
	case *types.Hash:
		return e.writeHash(v, uc.Class, uc.Extends)
	}

	rv := reflect.ValueOf(inner)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return e.writeArray(rv, uc.Class, uc.Extends)
	case reflect.Map:
		return e.writeMap(rv, uc.Class, uc.Extends)
	}

	return errors.Wrapf(encio.NewUnsupportedValueError(inner), "user class %v", uc.Class)
}

// writeUserDef writes a user defined payload. Its slot is assigned after the payload and its instance variables.
func (e *Encoder) writeUserDef(id identity, class types.Symbol, extends []types.Symbol, payload []byte, ivars []types.IVar) error {
	if linked, err := e.link(id); linked {
		return err
	}

	hasIV := len(ivars) > 0
	if hasIV {
		if err := e.byte(types.TagIVar); err != nil {
			return err
		}
	}
	if err := e.writeExtends(extends); err != nil {
		return err
	}
	if err := e.byte(types.TagUserDef); err != nil {
		return err
	}
	if err := e.writeSymbol(class); err != nil {
		return err
	}
	if err := e.buff.WriteBytes(payload); err != nil {
		return err
	}
	if hasIV {
		if err := e.writeIVars(types.EncodingBinary, ivars); err != nil {
			return err
		}
	}

	e.register(id)
	return nil
}

// writeClassed writes a Go value with a class name:
// as a user marshal substitute if it implements types.RubyMarshaler,
// as a user defined payload if it implements encoding.BinaryMarshaler,
// and otherwise as a struct or object built from its fields.
func (e *Encoder) writeClassed(v any, class types.Symbol) error {
	id := identityOf(v)
	methods := v
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		// Let pointer receivers see a copy.
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		methods = ptr.Interface()
	}

	switch m := methods.(type) {
	case types.RubyMarshaler:
		if linked, err := e.link(id); linked {
			return err
		}
		e.register(id)

		sub, err := m.MarshalRuby()
		if err != nil {
			return errors.Wrapf(err, "marshalling %v", class)
		}
		if err := e.byte(types.TagUserMarshal); err != nil {
			return err
		}
		if err := e.writeSymbol(class); err != nil {
			return err
		}
		return e.encode(sub)

	case encoding.BinaryMarshaler:
		if linked, err := e.link(id); linked {
			return err
		}
		payload, err := m.MarshalBinary()
		if err != nil {
			return errors.Wrapf(err, "marshalling %v", class)
		}
		return e.writeUserDef(id, class, nil, payload, nil)
	}

	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return errors.Wrapf(encio.NewUnsupportedValueError(v), "class %v", class)
	}

	shape := types.ShapeObject
	if sr, ok := e.config.Classes.(types.ShapeResolver); ok {
		shape = sr.Shape(class)
	}

	fields := types.Fields(rv.Type(), shape)
	ivars := make([]types.IVar, len(fields))
	for i, f := range fields {
		ivars[i] = types.IVar{Name: f.Name, Value: fieldValue(rv.Field(f.Index))}
	}

	if linked, err := e.link(id); linked {
		return err
	}
	e.register(id)

	tag := types.TagObject
	if shape == types.ShapeStruct {
		tag = types.TagStruct
	}
	if err := e.byte(tag); err != nil {
		return err
	}
	if err := e.writeSymbol(class); err != nil {
		return err
	}
	if err := e.buff.WriteLong(int64(len(ivars))); err != nil {
		return err
	}
	for _, iv := range ivars {
		if err := e.writeSymbol(iv.Name); err != nil {
			return err
		}
		if err := e.encode(iv.Value); err != nil {
			e.config.Logger.Debug("failed to dump instance variable",
				zap.String("class", string(class)),
				zap.String("ivar", string(iv.Name)),
			)
			return err
		}
	}
	return nil
}
