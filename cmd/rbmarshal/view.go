package main

import (
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/stewi1014/rmarshal/encio"
	"github.com/stewi1014/rmarshal/types"
)

// kindKey marks a JSON object describing a Ruby value that JSON has no form for.
// Ruby hashes can't collide with it; their "__" string keys are escaped by types.EncodeKey.
const kindKey = "__ruby__"

const (
	kindObject      = "object"
	kindStruct      = "struct"
	kindClass       = "class"
	kindModule      = "module"
	kindString      = "string"
	kindRegexp      = "regexp"
	kindHash        = "hash"
	kindData        = "data"
	kindUserClass   = "user_class"
	kindUserMarshal = "user_marshal"
	kindUserDef     = "user_defined"

	// An anchor is the first appearance of a value that appears more than once, and a link is every later one.
	kindAnchor = "anchor"
	kindLink   = "link"
)

// ref identifies a value with reference semantics, the way the encoder links them.
type ref struct {
	t   reflect.Type
	ptr uintptr
	len int
}

func refOf(v any) (ref, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map:
		if rv.IsNil() {
			return ref{}, false
		}
		return ref{t: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return ref{}, false
		}
		return ref{t: rv.Type(), ptr: rv.Pointer(), len: rv.Len()}, true
	}
	return ref{}, false
}

// viewer converts loaded values to a tree of JSON values.
// Scalars JSON can't tell apart, like symbols, floats and binary strings, become synthetic key text.
type viewer struct {
	counts map[ref]int
	ids    map[ref]int
}

// toDocument returns the JSON tree for a loaded value.
func toDocument(v any) (any, error) {
	vw := &viewer{
		counts: make(map[ref]int),
		ids:    make(map[ref]int),
	}
	vw.count(v)
	return vw.view(v)
}

// count counts the appearances of every value with reference semantics.
func (vw *viewer) count(v any) {
	if r, ok := refOf(v); ok {
		vw.counts[r]++
		if vw.counts[r] > 1 {
			return
		}
	}

	countIVars := func(ivars []types.IVar) {
		for _, iv := range ivars {
			vw.count(iv.Value)
		}
	}

	switch x := v.(type) {
	case []any:
		for _, elem := range x {
			vw.count(elem)
		}
	case *types.Hash:
		for _, e := range x.Entries {
			vw.count(e.Key)
			vw.count(e.Value)
		}
		if x.HasDefault {
			vw.count(x.Default)
		}
	case map[any]any:
		for k, e := range x {
			vw.count(k)
			vw.count(e)
		}
	case map[string]any:
		for _, e := range x {
			vw.count(e)
		}
	case *types.String:
		countIVars(x.IVars)
	case *types.Regexp:
		countIVars(x.IVars)
	case *types.Object:
		countIVars(x.IVars)
	case *types.Struct:
		countIVars(x.Members)
	case *types.UserDef:
		countIVars(x.IVars)
	case *types.Data:
		vw.count(x.Value)
	case *types.UserMarshal:
		vw.count(x.Value)
	case *types.UserClass:
		vw.count(x.Value)
	}
}

func (vw *viewer) shared(v any) bool {
	r, ok := refOf(v)
	return ok && vw.counts[r] > 1
}

func (vw *viewer) view(v any) (any, error) {
	r, ok := refOf(v)
	if !ok || vw.counts[r] < 2 {
		return vw.shape(v)
	}
	if id, seen := vw.ids[r]; seen {
		return map[string]any{kindKey: kindLink, "id": id}, nil
	}
	id := len(vw.ids)
	vw.ids[r] = id
	value, err := vw.shape(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{kindKey: kindAnchor, "id": id, "value": value}, nil
}

func (vw *viewer) shape(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int:
		return x, nil
	case types.Integer:
		return int64(x), nil
	case string, types.Symbol, []byte, float64, *types.Float, *big.Int, *types.Bignum:
		return types.EncodeKey(x)

	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			var err error
			if out[i], err = vw.view(elem); err != nil {
				return nil, err
			}
		}
		return out, nil

	case *types.Hash:
		return vw.hash(x)

	case map[any]any:
		entries := make(map[string]any, len(x))
		for _, k := range sortedKeys(x) {
			if err := vw.entry(entries, k.key, x[k.value]); err != nil {
				return nil, err
			}
		}
		return entries, nil

	case map[string]any:
		keys := lo.Keys(x)
		sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
		entries := make(map[string]any, len(x))
		for _, k := range keys {
			value, err := vw.view(x[k])
			if err != nil {
				return nil, err
			}
			entries[k] = value
		}
		return entries, nil

	case *types.String:
		if len(x.IVars) == 0 && !vw.shared(x) {
			switch x.Encoding {
			case types.EncodingUTF8:
				return types.EncodeKey(string(x.Data))
			case types.EncodingBinary:
				return types.EncodeKey(x.Data)
			}
		}
		return vw.tagged(kindString, map[string]any{
			"data":     textOrBytes(x.Data),
			"encoding": x.Encoding,
		}, "ivars", x.IVars, nil)

	case *types.Regexp:
		return vw.tagged(kindRegexp, map[string]any{
			"source":   textOrBytes(x.Source),
			"options":  int(x.Options),
			"encoding": x.Encoding,
		}, "ivars", x.IVars, nil)

	case *regexp.Regexp:
		return map[string]any{kindKey: kindRegexp, "source": x.String()}, nil

	case *types.Object:
		return vw.tagged(kindObject, map[string]any{"class": string(x.Class)}, "ivars", x.IVars, x.Extends)

	case *types.Struct:
		return vw.tagged(kindStruct, map[string]any{"class": string(x.Class)}, "members", x.Members, x.Extends)

	case *types.Class:
		return map[string]any{kindKey: kindClass, "name": x.Name}, nil

	case *types.Module:
		m := map[string]any{kindKey: kindModule, "name": x.Name}
		if x.Legacy {
			m["legacy"] = true
		}
		return m, nil

	case *types.Data:
		return vw.wrapped(kindData, x.Class, x.Value, x.Extends)

	case *types.UserMarshal:
		return vw.wrapped(kindUserMarshal, x.Class, x.Value, x.Extends)

	case *types.UserClass:
		return vw.wrapped(kindUserClass, x.Class, x.Value, x.Extends)

	case *types.UserDef:
		payload, err := types.EncodeKey(x.Payload)
		if err != nil {
			return nil, err
		}
		return vw.tagged(kindUserDef, map[string]any{
			"class":   string(x.Class),
			"payload": payload,
		}, "ivars", x.IVars, x.Extends)
	}

	return nil, errors.Wrap(encio.NewUnsupportedValueError(v), "no JSON form")
}

// hash returns a JSON object for hashes whose keys have plain text forms in sorted order,
// which is the order build writes them in, and a tagged list of pairs otherwise.
func (vw *viewer) hash(h *types.Hash) (any, error) {
	if len(h.Extends) == 0 && vw.plainKeys(h) {
		entries := make(map[string]any, len(h.Entries)+1)
		for _, e := range h.Entries {
			if err := vw.entry(entries, e.Key, e.Value); err != nil {
				return nil, err
			}
		}
		if h.HasDefault {
			if err := vw.entry(entries, types.DefaultKey{}, h.Default); err != nil {
				return nil, err
			}
		}
		return entries, nil
	}

	pairs := make([]any, len(h.Entries))
	for i, e := range h.Entries {
		key, err := vw.view(e.Key)
		if err != nil {
			return nil, err
		}
		value, err := vw.view(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		pairs[i] = []any{key, value}
	}
	m := map[string]any{kindKey: kindHash, "entries": pairs}
	if h.HasDefault {
		def, err := vw.view(h.Default)
		if err != nil {
			return nil, errors.Wrap(err, "default")
		}
		m["default"] = def
	}
	if len(h.Extends) > 0 {
		m["extends"] = symbolStrings(h.Extends)
	}
	return m, nil
}

func (vw *viewer) plainKeys(h *types.Hash) bool {
	prev := ""
	for i, e := range h.Entries {
		if !vw.plainKey(e.Key) {
			return false
		}
		text, err := types.EncodeKey(e.Key)
		if err != nil || i > 0 && !keyLess(prev, text) {
			return false
		}
		prev = text
	}
	return true
}

// plainKey reports whether build gets k back from its synthetic key text.
func (vw *viewer) plainKey(k any) bool {
	switch x := k.(type) {
	case *types.String:
		return len(x.IVars) == 0 && !vw.shared(x) &&
			(x.Encoding == types.EncodingUTF8 || x.Encoding == types.EncodingBinary)
	case []byte, *big.Int, *types.Bignum, *types.Float:
		return !vw.shared(x)
	}
	_, isRef := refOf(k)
	return !isRef
}

func (vw *viewer) entry(entries map[string]any, k, v any) error {
	key, err := types.EncodeKey(k)
	if err != nil {
		return err
	}
	value, err := vw.view(v)
	if err != nil {
		return err
	}
	entries[key] = value
	return nil
}

// tagged fills m with the kind, the instance variables as ordered pairs and the extended modules.
func (vw *viewer) tagged(kind string, m map[string]any, field string, ivars []types.IVar, extends []types.Symbol) (any, error) {
	m[kindKey] = kind
	if len(ivars) > 0 {
		pairs := make([]any, len(ivars))
		for i, iv := range ivars {
			value, err := vw.view(iv.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "%v", iv.Name)
			}
			pairs[i] = []any{string(iv.Name), value}
		}
		m[field] = pairs
	}
	if len(extends) > 0 {
		m["extends"] = symbolStrings(extends)
	}
	return m, nil
}

func (vw *viewer) wrapped(kind string, class types.Symbol, inner any, extends []types.Symbol) (any, error) {
	value, err := vw.view(inner)
	if err != nil {
		return nil, err
	}
	return vw.tagged(kind, map[string]any{"class": string(class), "value": value}, "", nil, extends)
}

type mapKey struct {
	key   string
	value any
}

// sortedKeys returns the keys of m with their synthetic key text, in the order build writes them.
func sortedKeys(m map[any]any) []mapKey {
	keys := make([]mapKey, 0, len(m))
	for k := range m {
		text, err := types.EncodeKey(k)
		if err != nil {
			text = fmt.Sprint(k)
		}
		keys = append(keys, mapKey{key: text, value: k})
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i].key, keys[j].key) })
	return keys
}

// keyLess orders synthetic key text, with the hash default last.
func keyLess(a, b string) bool {
	if a == types.KeyDefault || b == types.KeyDefault {
		return b == types.KeyDefault && a != types.KeyDefault
	}
	return a < b
}

func symbolStrings(syms []types.Symbol) []any {
	return lo.Map(syms, func(s types.Symbol, _ int) any { return string(s) })
}

func textOrBytes(p []byte) string {
	if utf8.Valid(p) {
		text, _ := types.EncodeKey(string(p))
		return text
	}
	text, _ := types.EncodeKey(p)
	return text
}

// number is a JSON number read with UseNumber.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// builder converts a tree of JSON or YAML values back to values rmarshal can dump.
// It visits values in the order the viewer wrote them, so anchors come before their links.
type builder struct {
	anchors map[int]any

	// pending is the id of the anchor whose value is being built, or -1.
	// The value takes it before building its children, so links inside it resolve.
	pending int
}

// fromDocument returns the value for a JSON tree.
func fromDocument(doc any) (any, error) {
	b := &builder{
		anchors: make(map[int]any),
		pending: -1,
	}
	return b.build(doc)
}

func (b *builder) bind(v any) {
	if b.pending >= 0 {
		b.anchors[b.pending] = v
		b.pending = -1
	}
}

func (b *builder) build(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int, float64:
		return x, nil
	case int64:
		return int(x), nil
	case string:
		return types.DecodeKey(x)
	case number:
		if n, err := x.Int64(); err == nil {
			return int(n), nil
		}
		if n, ok := new(big.Int).SetString(x.String(), 10); ok {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrapf(err, "number %v", x)
		}
		return f, nil
	case []any:
		out := make([]any, len(x))
		b.bind(out)
		for i, elem := range x {
			var err error
			if out[i], err = b.build(elem); err != nil {
				return nil, errors.Wrapf(err, "index %d", i)
			}
		}
		return out, nil
	case map[string]any:
		if kind, ok := x[kindKey]; ok {
			return b.buildTagged(kind, x)
		}
		h := new(types.Hash)
		b.bind(h)
		return h, b.fillHash(h, x)
	}
	return nil, errors.Newf("cannot build a value from %T", v)
}

// fillHash sets the entries of a JSON object on h, in key order with the default last.
func (b *builder) fillHash(h *types.Hash, m map[string]any) error {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	h.Entries = make([]types.HashEntry, 0, len(keys))
	for _, k := range keys {
		key, err := types.DecodeKey(k)
		if err != nil {
			return err
		}
		value, err := b.build(m[k])
		if err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
		if _, ok := key.(types.DefaultKey); ok {
			h.SetDefault(value)
			continue
		}
		h.Set(key, value)
	}
	return nil
}

// fillPairs sets a list of [key, value] pairs on h, in list order.
func (b *builder) fillPairs(h *types.Hash, pairs []any) error {
	h.Entries = make([]types.HashEntry, 0, len(pairs))
	index := types.NewKeyIndex(h)
	for i, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return errors.Newf("hash entry %d must be a [key, value] pair", i)
		}
		key, err := b.build(pair[0])
		if err != nil {
			return errors.Wrapf(err, "entry %d", i)
		}
		value, err := b.build(pair[1])
		if err != nil {
			return errors.Wrapf(err, "entry %d", i)
		}
		index.Set(key, value)
	}
	return nil
}

func (b *builder) buildTagged(kind any, m map[string]any) (any, error) {
	f := b.fields(m)
	var v any
	switch kind {
	case kindAnchor:
		id := f.int("id")
		if f.err != nil {
			return nil, f.err
		}
		if _, ok := b.anchors[id]; ok {
			return nil, errors.Newf("anchor %d is defined twice", id)
		}
		b.pending = id
		value, err := b.build(m["value"])
		if err != nil {
			return nil, errors.Wrapf(err, "anchor %d", id)
		}
		if b.pending == id {
			// Scalars have no identity of their own; integers keep theirs as bignums.
			if n, ok := value.(int); ok {
				value = big.NewInt(int64(n))
			}
			b.bind(value)
		}
		return value, nil
	case kindLink:
		id := f.int("id")
		if f.err != nil {
			return nil, f.err
		}
		target, ok := b.anchors[id]
		if !ok {
			return nil, errors.Newf("link to undefined anchor %d", id)
		}
		return target, nil

	case kindObject:
		o := &types.Object{Class: f.symbol("class"), Extends: f.extends()}
		b.bind(o)
		o.IVars = f.ivars("ivars")
		v = o
	case kindStruct:
		st := &types.Struct{Class: f.symbol("class"), Extends: f.extends()}
		b.bind(st)
		st.Members = f.ivars("members")
		v = st
	case kindClass:
		v = &types.Class{Name: f.string("name")}
	case kindModule:
		legacy, _ := m["legacy"].(bool)
		v = &types.Module{Name: f.string("name"), Legacy: legacy}
	case kindString:
		str := &types.String{Data: f.bytes("data"), Encoding: f.string("encoding")}
		b.bind(str)
		str.IVars = f.ivars("ivars")
		v = str
	case kindRegexp:
		re := &types.Regexp{
			Source:   f.bytes("source"),
			Options:  byte(f.int("options")),
			Encoding: f.string("encoding"),
		}
		b.bind(re)
		re.IVars = f.ivars("ivars")
		v = re
	case kindHash:
		h := &types.Hash{Extends: f.extends()}
		b.bind(h)
		switch entries := m["entries"].(type) {
		case nil:
		case []any:
			f.fail(b.fillPairs(h, entries))
		case map[string]any:
			f.fail(b.fillHash(h, entries))
		default:
			return nil, errors.New("hash entries must be a list of pairs or an object")
		}
		if _, ok := m["default"]; ok {
			h.SetDefault(f.value("default"))
		}
		v = h
	case kindData:
		data := &types.Data{Class: f.symbol("class"), Extends: f.extends()}
		b.bind(data)
		data.Value = f.value("value")
		v = data
	case kindUserMarshal:
		um := &types.UserMarshal{Class: f.symbol("class"), Extends: f.extends()}
		b.bind(um)
		um.Value = f.value("value")
		v = um
	case kindUserClass:
		uc := &types.UserClass{Class: f.symbol("class"), Extends: f.extends()}
		b.bind(uc)
		uc.Value = f.value("value")
		v = uc
	case kindUserDef:
		ud := &types.UserDef{Class: f.symbol("class"), Payload: f.bytes("payload"), Extends: f.extends()}
		b.bind(ud)
		ud.IVars = f.ivars("ivars")
		v = ud
	default:
		return nil, errors.Newf("unknown kind %v", kind)
	}
	if f.err != nil {
		return nil, errors.Wrapf(f.err, "%v", kind)
	}
	return v, nil
}

// fieldReader reads the fields of a tagged object, keeping the first error.
type fieldReader struct {
	b   *builder
	m   map[string]any
	err error
}

func (b *builder) fields(m map[string]any) *fieldReader {
	return &fieldReader{b: b, m: m}
}

func (f *fieldReader) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *fieldReader) string(name string) string {
	v, ok := f.m[name]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(errors.Newf("%v must be a string, got %T", name, v))
	}
	return s
}

func (f *fieldReader) symbol(name string) types.Symbol {
	s := f.string(name)
	if s == "" {
		f.fail(errors.Newf("%v is required", name))
	}
	return types.Symbol(s)
}

func (f *fieldReader) value(name string) any {
	v, err := f.b.build(f.m[name])
	if err != nil {
		f.fail(errors.Wrapf(err, "%v", name))
	}
	return v
}

func (f *fieldReader) bytes(name string) []byte {
	switch v := f.value(name).(type) {
	case nil:
		return nil
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		f.fail(errors.Newf("%v must be text or bytes, got %T", name, v))
		return nil
	}
}

func (f *fieldReader) int(name string) int {
	switch v := f.value(name).(type) {
	case nil:
		return 0
	case int:
		return v
	default:
		f.fail(errors.Newf("%v must be an integer, got %T", name, v))
		return 0
	}
}

func (f *fieldReader) ivars(name string) []types.IVar {
	v, ok := f.m[name]
	if !ok {
		return nil
	}
	pairs, ok := v.([]any)
	if !ok {
		f.fail(errors.Newf("%v must be a list of pairs", name))
		return nil
	}
	ivars := make([]types.IVar, 0, len(pairs))
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			f.fail(errors.Newf("%v must be a list of pairs", name))
			return nil
		}
		ivName, ok := pair[0].(string)
		if !ok {
			f.fail(errors.Newf("%v names must be strings", name))
			return nil
		}
		value, err := f.b.build(pair[1])
		if err != nil {
			f.fail(errors.Wrapf(err, "%v", ivName))
			return nil
		}
		ivars = append(ivars, types.IVar{Name: types.Symbol(ivName), Value: value})
	}
	return ivars
}

func (f *fieldReader) extends() []types.Symbol {
	v, ok := f.m["extends"]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		f.fail(errors.New("extends must be a list of module names"))
		return nil
	}
	return lo.FilterMap(list, func(m any, _ int) (types.Symbol, bool) {
		s, ok := m.(string)
		if !ok {
			f.fail(errors.Newf("module name must be a string, got %T", m))
		}
		return types.Symbol(s), ok
	})
}
