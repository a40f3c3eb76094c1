package rmarshal

import (
	"encoding"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/stewi1014/rmarshal/encio"
	"github.com/stewi1014/rmarshal/types"
)

// NewDecoder returns a new Decoder reading the streams in data.
func NewDecoder(data []byte, config *Config) *Decoder {
	return &Decoder{
		config: config.copyAndFill(),
		r:      encio.NewReader(data),
	}
}

// Decoder reads values in the Marshal format.
// Each call to Decode reads one complete stream; links never reach into a previous stream.
// It is not safe for concurrent use.
type Decoder struct {
	config *Config
	r      *encio.Reader

	symbols []types.Symbol
	objects []any

	// pending takes the next registered slot in place of the value being registered.
	pending *types.UserClass
	depth   int
}

// unpopulated marks a slot reserved for a value still being read.
type unpopulated struct{}

// More returns true if data remains after the streams read so far.
func (d *Decoder) More() bool {
	return d.r.Len() > 0
}

// Offset returns the number of bytes read so far.
func (d *Decoder) Offset() int {
	return d.r.Offset()
}

// Decode reads the next stream and returns its value.
func (d *Decoder) Decode() (any, error) {
	d.symbols = d.symbols[:0]
	d.objects = d.objects[:0]
	d.pending = nil
	d.depth = 0

	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d.decode(nil)
}

func (d *Decoder) readHeader() error {
	start := d.r.Offset()
	if d.r.Len() < 3 {
		return encio.NewFormatError(start, "data is too short: %d bytes", d.r.Len())
	}
	header, err := d.r.Next(2)
	if err != nil {
		return err
	}
	if header[0] != encio.MajorVersion || header[1] != encio.MinorVersion {
		return encio.NewFormatError(start, "incompatible format version %d.%d, want %d.%d",
			header[0], header[1], encio.MajorVersion, encio.MinorVersion)
	}
	return nil
}

// register assigns the next object slot to v, or to the pending user class wrapping it.
func (d *Decoder) register(v any) {
	if d.pending != nil {
		d.pending.Value = v
		v, d.pending = d.pending, nil
	}
	d.objects = append(d.objects, v)
}

// reserve assigns the next object slot to a value that isn't built yet.
func (d *Decoder) reserve() int {
	index := len(d.objects)
	if d.pending != nil {
		d.objects = append(d.objects, d.pending)
		d.pending = nil
	} else {
		d.objects = append(d.objects, unpopulated{})
	}
	return index
}

// fill stores v in a reserved slot.
func (d *Decoder) fill(index int, v any) {
	if uc, ok := d.objects[index].(*types.UserClass); ok && uc.Value == nil {
		uc.Value = v
		return
	}
	d.objects[index] = v
}

// decode reads one value. ivp is non-nil while an instance variable envelope is open around the value;
// values that consume the instance variables themselves clear it.
func (d *Decoder) decode(ivp *bool) (any, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > d.config.MaxDepth {
		return nil, errors.Wrapf(encio.ErrTooDeep, "more than %d levels at offset %d", d.config.MaxDepth, d.r.Offset())
	}

	start := d.r.Offset()
	c, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch tag := types.Tag(c); tag {
	case types.TagNil:
		return nil, nil
	case types.TagTrue:
		return true, nil
	case types.TagFalse:
		return false, nil

	case types.TagFixnum:
		n, err := d.r.ReadLong()
		if err != nil {
			return nil, err
		}
		if d.config.Numbers == NumberBoxed {
			return types.Integer(n), nil
		}
		return int(n), nil

	case types.TagBignum:
		x, err := d.r.ReadBignum()
		if err != nil {
			return nil, err
		}
		var v any = x
		if d.config.Numbers == NumberBoxed {
			v = types.NewBignum(x)
		}
		d.register(v)
		return v, nil

	case types.TagFloat:
		text, err := d.r.ReadBytes()
		if err != nil {
			return nil, err
		}
		f, err := encio.ParseFloat(text)
		if err != nil {
			return nil, encio.NewFormatError(start, "invalid float %q", text)
		}
		var v any = f
		if d.config.Numbers == NumberBoxed {
			v = &types.Float{Value: f}
		}
		d.register(v)
		return v, nil

	case types.TagSymbol:
		return d.readSymbolBody(ivp)

	case types.TagSymlink:
		index, err := d.r.ReadLong()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= int64(len(d.symbols)) {
			return nil, encio.NewFormatError(start, "symlink %d out of range of %d symbols", index, len(d.symbols))
		}
		return d.symbols[index], nil

	case types.TagLink:
		index, err := d.r.ReadLong()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= int64(len(d.objects)) {
			return nil, encio.NewFormatError(start, "link %d out of range of %d objects", index, len(d.objects))
		}
		v := d.objects[index]
		if _, ok := v.(unpopulated); ok {
			return nil, encio.NewFormatError(start, "link %d refers to an object still being read", index)
		}
		return v, nil

	case types.TagIVar:
		return d.readIVarEnvelope()

	case types.TagExtended:
		module, err := d.readSymbol()
		if err != nil {
			return nil, err
		}
		v, err := d.decode(ivp)
		if err != nil {
			return nil, err
		}
		if ext, ok := v.(types.Extendable); ok {
			ext.Extend(module)
		} else {
			d.config.Logger.Warn("dropped extended module",
				zap.String("module", string(module)),
				zap.String("type", fmt.Sprintf("%T", v)),
			)
		}
		return v, nil

	case types.TagString:
		data, err := d.r.ReadBytes()
		if err != nil {
			return nil, err
		}
		s := &types.String{Data: data}
		if ivp != nil && *ivp {
			// The envelope sets the encoding and converts it.
			d.register(s)
			return s, nil
		}
		v := d.convertString(s)
		d.register(v)
		return v, nil

	case types.TagRegexp:
		return d.readRegexp(ivp)

	case types.TagArray:
		n, err := d.r.ReadCount()
		if err != nil {
			return nil, err
		}
		arr := make([]any, n)
		d.register(arr)
		for i := range arr {
			if arr[i], err = d.decode(nil); err != nil {
				return nil, err
			}
		}
		return arr, nil

	case types.TagHash, types.TagHashDef:
		return d.readHash(tag == types.TagHashDef)

	case types.TagObject:
		return d.readObject()

	case types.TagStruct:
		return d.readStruct()

	case types.TagClass, types.TagModule, types.TagModuleOld:
		name, err := d.r.ReadBytes()
		if err != nil {
			return nil, err
		}
		var v any
		switch tag {
		case types.TagClass:
			v = &types.Class{Name: string(name)}
		case types.TagModule:
			v = &types.Module{Name: string(name)}
		default:
			v = &types.Module{Name: string(name), Legacy: true}
		}
		d.register(v)
		return v, nil

	case types.TagData, types.TagUserMarshal:
		return d.readWrapped(tag)

	case types.TagUserClass:
		class, err := d.readSymbol()
		if err != nil {
			return nil, err
		}
		uc := &types.UserClass{Class: class}
		d.pending = uc
		inner, err := d.decode(ivp)
		if err != nil {
			return nil, err
		}
		if d.pending == uc {
			d.pending = nil
			return nil, encio.NewFormatError(start, "user class %v wraps a %T", class, inner)
		}
		uc.Value = inner
		return uc, nil

	case types.TagUserDef:
		return d.readUserDef(ivp)
	}

	return nil, encio.NewFormatError(start, "unknown type tag %#02x", c)
}

func (d *Decoder) readSymbol() (types.Symbol, error) {
	start := d.r.Offset()
	v, err := d.decode(nil)
	if err != nil {
		return "", err
	}
	sym, ok := v.(types.Symbol)
	if !ok {
		return "", encio.NewFormatError(start, "expected a symbol, got %T", v)
	}
	return sym, nil
}

// readSymbolBody reads a symbol after its tag. The symbol takes its table slot before its encoding is read.
func (d *Decoder) readSymbolBody(ivp *bool) (types.Symbol, error) {
	name, err := d.r.ReadBytes()
	if err != nil {
		return "", err
	}
	sym := types.Symbol(name)
	d.symbols = append(d.symbols, sym)

	if ivp != nil && *ivp {
		*ivp = false
		ivars, err := d.readIVars()
		if err != nil {
			return "", err
		}
		for _, iv := range ivars {
			if iv.Name != types.IVarEncodingShort && iv.Name != types.IVarEncoding {
				d.config.Logger.Debug("ignored symbol instance variable", zap.String("ivar", string(iv.Name)))
			}
		}
	}
	return sym, nil
}

func (d *Decoder) readIVars() ([]types.IVar, error) {
	n, err := d.r.ReadCount()
	if err != nil {
		return nil, err
	}
	ivars := make([]types.IVar, 0, n)
	for i := 0; i < n; i++ {
		name, err := d.readSymbol()
		if err != nil {
			return nil, err
		}
		value, err := d.decode(nil)
		if err != nil {
			return nil, err
		}
		ivars = append(ivars, types.IVar{Name: name, Value: value})
	}
	return ivars, nil
}

// splitEncoding separates the encoding from other instance variables.
// Strings without an encoding instance variable are binary.
func (d *Decoder) splitEncoding(ivars []types.IVar) (enc string, rest []types.IVar) {
	enc = types.EncodingBinary
	for _, iv := range ivars {
		switch iv.Name {
		case types.IVarEncodingShort:
			if b, ok := iv.Value.(bool); ok {
				if b {
					enc = types.EncodingUTF8
				} else {
					enc = types.EncodingASCII
				}
				continue
			}
		case types.IVarEncoding:
			if name, ok := stringOf(iv.Value); ok {
				enc = name
				continue
			}
		}
		rest = append(rest, iv)
	}
	return enc, rest
}

func stringOf(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case *types.String:
		return string(s.Data), true
	}
	return "", false
}

// readIVarEnvelope reads a value followed by its instance variables.
// A string is converted once its encoding is known, replacing the raw string in its slot.
func (d *Decoder) readIVarEnvelope() (any, error) {
	slot := len(d.objects)
	hasIV := true
	v, err := d.decode(&hasIV)
	if err != nil {
		return nil, err
	}
	if !hasIV {
		return v, nil
	}

	ivars, err := d.readIVars()
	if err != nil {
		return nil, err
	}

	switch x := v.(type) {
	case *types.String:
		x.Encoding, x.IVars = d.splitEncoding(ivars)
		final := d.convertString(x)
		if slot < len(d.objects) && d.objects[slot] == any(x) {
			d.objects[slot] = final
		}
		return final, nil

	case *types.UserClass:
		if s, ok := x.Value.(*types.String); ok {
			s.Encoding, s.IVars = d.splitEncoding(ivars)
			x.Value = d.convertString(s)
			return x, nil
		}
	}

	d.config.Logger.Debug("ignored instance variables",
		zap.String("type", fmt.Sprintf("%T", v)),
		zap.Int("count", len(ivars)),
	)
	return v, nil
}

// convertString returns the configured representation of a loaded string.
func (d *Decoder) convertString(s *types.String) any {
	switch d.config.Strings {
	case StringWrap:
		return s
	case StringBinary:
		return s.Data
	case StringUTF8:
		switch s.Encoding {
		case types.EncodingBinary, types.EncodingUTF8, types.EncodingASCII:
			return string(s.Data)
		}
		text, err := transcode(s.Data, s.Encoding)
		if err != nil {
			d.config.Logger.Warn("string left untranscoded", zap.String("encoding", s.Encoding), zap.Error(err))
			return string(s.Data)
		}
		return text
	}

	if len(s.IVars) > 0 {
		return s
	}
	switch s.Encoding {
	case types.EncodingBinary:
		return s.Data
	case types.EncodingUTF8, types.EncodingASCII:
		return string(s.Data)
	}
	text, err := transcode(s.Data, s.Encoding)
	if err != nil {
		d.config.Logger.Warn("unknown string encoding", zap.String("encoding", s.Encoding), zap.Error(err))
		return s
	}
	return text
}

// readRegexp reads a regular expression. Its slot is reserved before its encoding is read.
func (d *Decoder) readRegexp(ivp *bool) (any, error) {
	source, err := d.r.ReadBytes()
	if err != nil {
		return nil, err
	}
	options, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	slot := d.reserve()
	re := &types.Regexp{Source: source, Options: options}
	if ivp != nil && *ivp {
		*ivp = false
		ivars, err := d.readIVars()
		if err != nil {
			return nil, err
		}
		re.Encoding, re.IVars = d.splitEncoding(ivars)
	}

	v := d.convertRegexp(re)
	d.fill(slot, v)
	return v, nil
}

func (d *Decoder) convertRegexp(re *types.Regexp) any {
	if d.config.Regexps != RegexpCompile {
		return re
	}
	if re.Options&types.RegexpExtended != 0 {
		d.config.Logger.Warn("extended regexp kept uncompiled", zap.ByteString("source", re.Source))
		return re
	}

	var flags string
	if re.Options&types.RegexpIgnoreCase != 0 {
		flags += "i"
	}
	if re.Options&types.RegexpMultiline != 0 {
		flags += "s"
	}
	expr := string(re.Source)
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}

	compiled, err := regexp.Compile(expr)
	if err != nil {
		d.config.Logger.Warn("regexp kept uncompiled", zap.ByteString("source", re.Source), zap.Error(err))
		return re
	}
	return compiled
}

func (d *Decoder) readHash(hasDefault bool) (any, error) {
	n, err := d.r.ReadCount()
	if err != nil {
		return nil, err
	}

	var (
		set        func(k, v any) error
		setDefault func(v any)
		result     any
	)

	switch d.config.Hashes {
	case HashMap:
		m := make(map[any]any, n)
		set = func(k, v any) error {
			key, err := mapKey(k)
			if err != nil {
				return err
			}
			m[key] = v
			return nil
		}
		setDefault = func(v any) { m[types.DefaultKey{}] = v }
		result = m

	case HashStringKeyed:
		m := make(map[string]any, n)
		set = func(k, v any) error {
			if sym, ok := k.(types.Symbol); ok && d.config.SymbolKeysAsStrings {
				m[string(sym)] = v
				return nil
			}
			key, err := types.EncodeKey(k)
			if err != nil {
				return err
			}
			m[key] = v
			return nil
		}
		setDefault = func(v any) { m[types.KeyDefault] = v }
		result = m

	default:
		h := &types.Hash{Entries: make([]types.HashEntry, 0, n)}
		index := types.NewKeyIndex(h)
		set = func(k, v any) error {
			index.Set(k, v)
			return nil
		}
		setDefault = h.SetDefault
		result = h
	}

	d.register(result)
	for i := 0; i < n; i++ {
		start := d.r.Offset()
		k, err := d.decode(nil)
		if err != nil {
			return nil, err
		}
		v, err := d.decode(nil)
		if err != nil {
			return nil, err
		}
		if err := set(k, v); err != nil {
			return nil, errors.Wrapf(err, "hash key at offset %d", start)
		}
	}

	if hasDefault {
		def, err := d.decode(nil)
		if err != nil {
			return nil, err
		}
		setDefault(def)
	}
	return result, nil
}

// mapKey returns k if Go can use it as a map key, and its synthetic key otherwise.
func mapKey(k any) (any, error) {
	if k == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(k)
	if rv.Comparable() {
		return k, nil
	}
	text, err := types.EncodeKey(k)
	if err != nil {
		return nil, err
	}
	return types.CompositeKey{Key: text}, nil
}

// construct asks the class resolver for a value to load an instance of class into.
func (d *Decoder) construct(class types.Symbol) (any, bool) {
	v, ok := d.config.Classes.Construct(class)
	if !ok {
		d.config.Logger.Debug("unknown class", zap.String("class", string(class)))
	}
	return v, ok
}

// ivarName applies the instance variable name conversion of the IVars mode.
func (d *Decoder) ivarName(name types.Symbol) types.Symbol {
	if !strings.HasPrefix(string(name), "@") {
		return name
	}
	switch d.config.IVars {
	case IVarPrefix:
		return types.Symbol(d.config.IVarPrefix + string(name[1:]))
	case IVarStrip:
		return name[1:]
	}
	return name
}

func (d *Decoder) readObject() (any, error) {
	class, err := d.readSymbol()
	if err != nil {
		return nil, err
	}

	var (
		target any
		obj    *types.Object
	)
	if v, ok := d.construct(class); ok && isStructPtr(v) {
		target = v
	} else {
		if ok {
			d.config.Logger.Warn("registered type can't hold instance variables", zap.String("class", string(class)))
		}
		obj = &types.Object{Class: class}
		target = obj
	}
	d.register(target)

	n, err := d.r.ReadCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		name, err := d.readSymbol()
		if err != nil {
			return nil, err
		}
		value, err := d.decode(nil)
		if err != nil {
			return nil, err
		}

		if obj != nil {
			obj.IVars = append(obj.IVars, types.IVar{Name: d.ivarName(name), Value: value})
			continue
		}
		if err := setIVar(target, types.ShapeObject, name, value); err != nil {
			d.config.Logger.Debug("ignored instance variable",
				zap.String("class", string(class)),
				zap.String("ivar", string(name)),
				zap.Error(err),
			)
		}
	}
	return target, nil
}

func (d *Decoder) readStruct() (any, error) {
	class, err := d.readSymbol()
	if err != nil {
		return nil, err
	}

	var (
		target any
		st     *types.Struct
	)
	if v, ok := d.construct(class); ok && isStructPtr(v) {
		target = v
	} else {
		st = &types.Struct{Class: class}
		target = st
	}
	d.register(target)

	n, err := d.r.ReadCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		name, err := d.readSymbol()
		if err != nil {
			return nil, err
		}
		value, err := d.decode(nil)
		if err != nil {
			return nil, err
		}

		if st != nil {
			st.Members = append(st.Members, types.IVar{Name: name, Value: value})
			continue
		}
		if err := setIVar(target, types.ShapeStruct, name, value); err != nil {
			d.config.Logger.Debug("ignored struct member",
				zap.String("class", string(class)),
				zap.String("member", string(name)),
				zap.Error(err),
			)
		}
	}
	return target, nil
}

// readWrapped reads data and user marshal objects. Both take a slot before the wrapped value,
// and are loaded through types.RubyUnmarshaler when the class resolver knows the class.
func (d *Decoder) readWrapped(tag types.Tag) (any, error) {
	start := d.r.Offset()
	class, err := d.readSymbol()
	if err != nil {
		return nil, err
	}

	if v, ok := d.construct(class); ok {
		if u, ok := v.(types.RubyUnmarshaler); ok {
			d.register(v)
			inner, err := d.decode(nil)
			if err != nil {
				return nil, err
			}
			if err := u.UnmarshalRuby(inner); err != nil {
				return nil, encio.NewFormatError(start, "loading %v: %v", class, err)
			}
			return v, nil
		}
		d.config.Logger.Warn("registered type is not a RubyUnmarshaler", zap.String("class", string(class)))
	}

	var v any
	var setInner func(any)
	if tag == types.TagData {
		data := &types.Data{Class: class}
		v, setInner = data, func(inner any) { data.Value = inner }
	} else {
		um := &types.UserMarshal{Class: class}
		v, setInner = um, func(inner any) { um.Value = inner }
	}
	d.register(v)

	inner, err := d.decode(nil)
	if err != nil {
		return nil, err
	}
	setInner(inner)
	return v, nil
}

// readUserDef reads a user defined payload. It takes its slot after the payload and its instance variables.
func (d *Decoder) readUserDef(ivp *bool) (any, error) {
	start := d.r.Offset()
	class, err := d.readSymbol()
	if err != nil {
		return nil, err
	}
	payload, err := d.r.ReadBytes()
	if err != nil {
		return nil, err
	}

	var ivars []types.IVar
	if ivp != nil && *ivp {
		*ivp = false
		if ivars, err = d.readIVars(); err != nil {
			return nil, err
		}
	}

	if v, ok := d.construct(class); ok {
		if u, ok := v.(encoding.BinaryUnmarshaler); ok {
			if err := u.UnmarshalBinary(payload); err != nil {
				return nil, encio.NewFormatError(start, "loading %v: %v", class, err)
			}
			d.register(v)
			return v, nil
		}
		d.config.Logger.Warn("registered type is not a BinaryUnmarshaler", zap.String("class", string(class)))
	}

	v := &types.UserDef{Class: class, Payload: payload, IVars: ivars}
	d.register(v)
	return v, nil
}
