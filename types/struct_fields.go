package types

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

const (
	// StructTag names the instance variable or member a struct field is written as.
	// A tag of "-" skips the field. Object instance variable names get a leading '@' if the tag lacks one.
	StructTag = "rmarshal"
)

// Field is an exported struct field and the name it's written as.
type Field struct {
	Name  Symbol
	Index int
}

type fieldsKey struct {
	ty    reflect.Type
	shape Shape
}

var fieldCache sync.Map // fieldsKey -> []Field

// Fields returns the fields of the struct type ty in declaration order.
// Untagged fields are named in snake_case, prefixed with '@' for objects.
func Fields(ty reflect.Type, shape Shape) []Field {
	key := fieldsKey{ty: ty, shape: shape}
	if cached, ok := fieldCache.Load(key); ok {
		return cached.([]Field)
	}

	fields := make([]Field, 0, ty.NumField())
	for i := 0; i < ty.NumField(); i++ {
		field := ty.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag, ok := field.Tag.Lookup(StructTag); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		} else {
			name = SnakeCase(name)
		}

		if shape == ShapeObject && !strings.HasPrefix(name, "@") {
			name = "@" + name
		}

		fields = append(fields, Field{Name: Symbol(name), Index: i})
	}

	cached, _ := fieldCache.LoadOrStore(key, fields)
	return cached.([]Field)
}

// FieldByName returns the field written as name.
func FieldByName(ty reflect.Type, shape Shape, name Symbol) (Field, bool) {
	for _, f := range Fields(ty, shape) {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SnakeCase converts a Go identifier to Ruby's naming style; "HTTPServer" becomes "http_server".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || i+1 < len(runes) && unicode.IsLower(runes[i+1])) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
