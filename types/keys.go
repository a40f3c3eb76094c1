package types

import (
	"encoding/base64"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/stewi1014/rmarshal/encio"
)

// Go maps can't hold every key a Ruby hash can, so keys that aren't plain strings
// can be written as strings with a prefix naming their kind.
// Composite keys carry JSON of the synthetic keys of their parts.
const (
	KeyPrefixSymbol  = "__symbol__"
	KeyPrefixString  = "__string__"
	KeyPrefixBytes   = "__bytes__"
	KeyPrefixInteger = "__integer__"
	KeyPrefixFloat   = "__float__"
	KeyPrefixArray   = "__array__"
	KeyPrefixHash    = "__hash__"
	KeyPrefixObject  = "__object__"
	KeyPrefixStruct  = "__struct__"

	KeyNull    = "__null__"
	KeyTrue    = "__true__"
	KeyFalse   = "__false__"
	KeyDefault = "__ruby_default__"
)

var keyJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// CompositeKey is a hash key that is not comparable in Go, such as an array or a hash.
// Key holds its synthetic key text.
type CompositeKey struct {
	Key string
}

// Value returns the key as a value.
func (k CompositeKey) Value() (any, error) {
	return DecodeKey(k.Key)
}

// DefaultKey is the map key holding a hash's default value.
type DefaultKey struct{}

type keyedObject struct {
	Class string      `json:"class"`
	IVars [][2]string `json:"ivars"`
}

// EncodeKey returns the synthetic key text for a hash key.
// Strings are returned as is unless they begin with "__".
func EncodeKey(key any) (string, error) {
	switch k := key.(type) {
	case nil:
		return KeyNull, nil
	case bool:
		if k {
			return KeyTrue, nil
		}
		return KeyFalse, nil
	case DefaultKey:
		return KeyDefault, nil
	case CompositeKey:
		return k.Key, nil
	case Symbol:
		return KeyPrefixSymbol + string(k), nil
	case string:
		if strings.HasPrefix(k, "__") {
			return KeyPrefixString + k, nil
		}
		return k, nil
	case []byte:
		return KeyPrefixBytes + base64.StdEncoding.EncodeToString(k), nil
	case *String:
		if k.Encoding == EncodingBinary {
			return EncodeKey(k.Data)
		}
		return EncodeKey(string(k.Data))
	case Integer:
		return KeyPrefixInteger + strconv.FormatInt(int64(k), 10), nil
	case *Bignum:
		return KeyPrefixInteger + k.String(), nil
	case *big.Int:
		return KeyPrefixInteger + k.String(), nil
	case float32:
		return KeyPrefixFloat + encio.FormatFloat(float64(k)), nil
	case float64:
		return KeyPrefixFloat + encio.FormatFloat(k), nil
	case *Float:
		return KeyPrefixFloat + encio.FormatFloat(k.Value), nil
	case []any:
		parts := make([]string, len(k))
		for i, elem := range k {
			s, err := EncodeKey(elem)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return marshalKey(KeyPrefixArray, parts)
	case *Hash:
		pairs := make([][2]string, 0, len(k.Entries))
		for _, e := range k.Entries {
			pair, err := encodePair(e.Key, e.Value)
			if err != nil {
				return "", err
			}
			pairs = append(pairs, pair)
		}
		return marshalKey(KeyPrefixHash, pairs)
	case *Object:
		return encodeObjectKey(KeyPrefixObject, k.Class, k.IVars)
	case *Struct:
		return encodeObjectKey(KeyPrefixStruct, k.Class, k.Members)
	}

	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KeyPrefixInteger + strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return KeyPrefixInteger + strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Slice, reflect.Array:
		elems := make([]any, v.Len())
		for i := range elems {
			elems[i] = v.Index(i).Interface()
		}
		return EncodeKey(elems)
	case reflect.Map:
		pairs := make([][2]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			pair, err := encodePair(iter.Key().Interface(), iter.Value().Interface())
			if err != nil {
				return "", err
			}
			pairs = append(pairs, pair)
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
		return marshalKey(KeyPrefixHash, pairs)
	}

	return "", encio.NewUnsupportedValueError(key)
}

func encodePair(key, value any) ([2]string, error) {
	k, err := EncodeKey(key)
	if err != nil {
		return [2]string{}, err
	}
	v, err := EncodeKey(value)
	if err != nil {
		return [2]string{}, err
	}
	return [2]string{k, v}, nil
}

func encodeObjectKey(prefix string, class Symbol, ivars []IVar) (string, error) {
	obj := keyedObject{
		Class: string(class),
		IVars: make([][2]string, len(ivars)),
	}
	for i, iv := range ivars {
		v, err := EncodeKey(iv.Value)
		if err != nil {
			return "", err
		}
		obj.IVars[i] = [2]string{string(iv.Name), v}
	}
	return marshalKey(prefix, obj)
}

func marshalKey(prefix string, v any) (string, error) {
	buff, err := keyJSON.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encoding composite key")
	}
	return prefix + string(buff), nil
}

// DecodeKey returns the value for synthetic key text produced by EncodeKey.
// Integers are returned as int, or *big.Int if they don't fit.
func DecodeKey(key string) (any, error) {
	if !strings.HasPrefix(key, "__") {
		return key, nil
	}

	switch key {
	case KeyNull:
		return nil, nil
	case KeyTrue:
		return true, nil
	case KeyFalse:
		return false, nil
	case KeyDefault:
		return DefaultKey{}, nil
	}

	switch {
	case strings.HasPrefix(key, KeyPrefixSymbol):
		return Symbol(key[len(KeyPrefixSymbol):]), nil

	case strings.HasPrefix(key, KeyPrefixString):
		return key[len(KeyPrefixString):], nil

	case strings.HasPrefix(key, KeyPrefixBytes):
		buff, err := base64.StdEncoding.DecodeString(key[len(KeyPrefixBytes):])
		if err != nil {
			return nil, badKey(key, err)
		}
		return buff, nil

	case strings.HasPrefix(key, KeyPrefixInteger):
		text := key[len(KeyPrefixInteger):]
		if n, err := strconv.Atoi(text); err == nil {
			return n, nil
		}
		x, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nil, badKey(key, nil)
		}
		return x, nil

	case strings.HasPrefix(key, KeyPrefixFloat):
		f, err := encio.ParseFloat([]byte(key[len(KeyPrefixFloat):]))
		if err != nil {
			return nil, badKey(key, err)
		}
		if math.IsInf(f, 0) && !strings.HasSuffix(key, "inf") {
			return nil, badKey(key, nil)
		}
		return f, nil

	case strings.HasPrefix(key, KeyPrefixArray):
		var parts []string
		if err := keyJSON.UnmarshalFromString(key[len(KeyPrefixArray):], &parts); err != nil {
			return nil, badKey(key, err)
		}
		arr := make([]any, len(parts))
		for i, part := range parts {
			v, err := DecodeKey(part)
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil

	case strings.HasPrefix(key, KeyPrefixHash):
		var pairs [][2]string
		if err := keyJSON.UnmarshalFromString(key[len(KeyPrefixHash):], &pairs); err != nil {
			return nil, badKey(key, err)
		}
		h := new(Hash)
		for _, pair := range pairs {
			k, err := DecodeKey(pair[0])
			if err != nil {
				return nil, err
			}
			v, err := DecodeKey(pair[1])
			if err != nil {
				return nil, err
			}
			h.Set(k, v)
		}
		return h, nil

	case strings.HasPrefix(key, KeyPrefixObject):
		class, ivars, err := decodeObjectKey(key, KeyPrefixObject)
		if err != nil {
			return nil, err
		}
		return &Object{Class: class, IVars: ivars}, nil

	case strings.HasPrefix(key, KeyPrefixStruct):
		class, members, err := decodeObjectKey(key, KeyPrefixStruct)
		if err != nil {
			return nil, err
		}
		return &Struct{Class: class, Members: members}, nil
	}

	return nil, badKey(key, nil)
}

func decodeObjectKey(key, prefix string) (Symbol, []IVar, error) {
	var obj keyedObject
	if err := keyJSON.UnmarshalFromString(key[len(prefix):], &obj); err != nil {
		return "", nil, badKey(key, err)
	}
	ivars := make([]IVar, len(obj.IVars))
	for i, pair := range obj.IVars {
		v, err := DecodeKey(pair[1])
		if err != nil {
			return "", nil, err
		}
		ivars[i] = IVar{Name: Symbol(pair[0]), Value: v}
	}
	return Symbol(obj.Class), ivars, nil
}

// ErrBadKey is returned by DecodeKey for text that EncodeKey cannot have produced.
var ErrBadKey = errors.New("bad synthetic hash key")

func badKey(key string, cause error) error {
	if cause != nil {
		return errors.Wrapf(ErrBadKey, "%q: %v", key, cause)
	}
	return errors.Wrapf(ErrBadKey, "%q", key)
}
