package rmarshal

import (
	"math/big"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/stewi1014/rmarshal/types"
)

// fieldValue returns the value of a struct field for dumping. Nil pointers, maps, slices and interfaces are nil.
func fieldValue(f reflect.Value) any {
	switch f.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		if f.IsNil() {
			return nil
		}
	}
	return f.Interface()
}

// setIVar sets an instance variable or member on a value made by the class resolver.
func setIVar(target any, shape types.Shape, name types.Symbol, value any) error {
	if setter, ok := target.(types.IVarSetter); ok {
		return setter.SetIVar(name, value)
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.Newf("cannot set %v on %T", name, target)
	}
	rv = rv.Elem()

	field, ok := types.FieldByName(rv.Type(), shape, name)
	if !ok {
		return errors.Newf("%v has no field for %v", rv.Type(), name)
	}
	return assign(rv.Field(field.Index), value)
}

// isStructPtr returns true for values setIVar can set fields on.
func isStructPtr(v any) bool {
	if _, ok := v.(types.IVarSetter); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct
}

// assign sets dst to the loaded value v, converting between the loaded representations and Go types.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := toInt64(v)
		if !ok || dst.OverflowInt(n) {
			break
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := toInt64(v)
		if !ok || n < 0 || dst.OverflowUint(uint64(n)) {
			break
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		switch f := v.(type) {
		case float64:
			dst.SetFloat(f)
			return nil
		case *types.Float:
			dst.SetFloat(f.Value)
			return nil
		}
		if n, ok := toInt64(v); ok {
			dst.SetFloat(float64(n))
			return nil
		}

	case reflect.String:
		switch s := v.(type) {
		case string:
			dst.SetString(s)
			return nil
		case []byte:
			dst.SetString(string(s))
			return nil
		case *types.String:
			dst.SetString(string(s.Data))
			return nil
		case types.Symbol:
			dst.SetString(string(s))
			return nil
		}

	case reflect.Bool:
		if b, ok := v.(bool); ok {
			dst.SetBool(b)
			return nil
		}

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch s := v.(type) {
			case string:
				dst.SetBytes([]byte(s))
				return nil
			case *types.String:
				dst.SetBytes(s.Data)
				return nil
			}
		}
		if arr, ok := v.([]any); ok {
			s := reflect.MakeSlice(dst.Type(), len(arr), len(arr))
			for i, elem := range arr {
				if err := assign(s.Index(i), elem); err != nil {
					return errors.Wrapf(err, "index %d", i)
				}
			}
			dst.Set(s)
			return nil
		}

	case reflect.Map:
		entries, ok := mapEntries(v)
		if !ok {
			break
		}
		m := reflect.MakeMapWithSize(dst.Type(), len(entries))
		for _, entry := range entries {
			k := reflect.New(dst.Type().Key()).Elem()
			if err := assign(k, entry.Key); err != nil {
				return errors.Wrap(err, "map key")
			}
			e := reflect.New(dst.Type().Elem()).Elem()
			if err := assign(e, entry.Value); err != nil {
				return errors.Wrapf(err, "map value for %v", entry.Key)
			}
			m.SetMapIndex(k, e)
		}
		dst.Set(m)
		return nil

	case reflect.Ptr:
		if src.Kind() == reflect.Ptr && src.Type().Elem().AssignableTo(dst.Type().Elem()) {
			dst.Set(src)
			return nil
		}
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil

	case reflect.Struct:
		if src.Kind() == reflect.Ptr && src.Type().Elem() == dst.Type() {
			dst.Set(src.Elem())
			return nil
		}
	}

	return errors.Newf("cannot load %T into %v", v, dst.Type())
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case types.Integer:
		return int64(n), true
	case *big.Int:
		return n.Int64(), n.IsInt64()
	case *types.Bignum:
		return n.Int64(), n.IsInt64()
	}
	return 0, false
}

func mapEntries(v any) ([]types.HashEntry, bool) {
	switch m := v.(type) {
	case *types.Hash:
		return m.Entries, true
	case map[any]any:
		entries := make([]types.HashEntry, 0, len(m))
		for k, v := range m {
			if _, ok := k.(types.DefaultKey); ok {
				continue
			}
			entries = append(entries, types.HashEntry{Key: k, Value: v})
		}
		return entries, true
	case map[string]any:
		entries := make([]types.HashEntry, 0, len(m))
		for k, v := range m {
			if k == types.KeyDefault {
				continue
			}
			key, err := types.DecodeKey(k)
			if err != nil {
				key = k
			}
			entries = append(entries, types.HashEntry{Key: key, Value: v})
		}
		return entries, true
	}
	return nil, false
}
