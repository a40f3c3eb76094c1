// Package types holds the wire type model of the Marshal format:
// the tag bytes, and the Ruby value shapes that have no natural Go representation.
//
// Plain Go values cover the rest: nil, bool, integers, float64, string ([]byte for binary strings),
// slices and maps. The variants here are closed; every one of them has exactly one wire shape.
package types

import "fmt"

// Tag is the byte that begins every value in a stream.
type Tag byte

// Tags, as written by Ruby.
const (
	TagNil         Tag = '0'
	TagTrue        Tag = 'T'
	TagFalse       Tag = 'F'
	TagFixnum      Tag = 'i'
	TagBignum      Tag = 'l'
	TagFloat       Tag = 'f'
	TagSymbol      Tag = ':'
	TagSymlink     Tag = ';'
	TagLink        Tag = '@'
	TagIVar        Tag = 'I'
	TagExtended    Tag = 'e'
	TagArray       Tag = '['
	TagHash        Tag = '{'
	TagHashDef     Tag = '}'
	TagObject      Tag = 'o'
	TagStruct      Tag = 'S'
	TagClass       Tag = 'c'
	TagModule      Tag = 'm'
	TagModuleOld   Tag = 'M'
	TagRegexp      Tag = '/'
	TagString      Tag = '"'
	TagData        Tag = 'd'
	TagUserClass   Tag = 'C'
	TagUserDef     Tag = 'u'
	TagUserMarshal Tag = 'U'
)

var tagNames = map[Tag]string{
	TagNil:         "nil",
	TagTrue:        "true",
	TagFalse:       "false",
	TagFixnum:      "fixnum",
	TagBignum:      "bignum",
	TagFloat:       "float",
	TagSymbol:      "symbol",
	TagSymlink:     "symlink",
	TagLink:        "link",
	TagIVar:        "ivar",
	TagExtended:    "extended",
	TagArray:       "array",
	TagHash:        "hash",
	TagHashDef:     "hash with default",
	TagObject:      "object",
	TagStruct:      "struct",
	TagClass:       "class",
	TagModule:      "module",
	TagModuleOld:   "old module",
	TagRegexp:      "regexp",
	TagString:      "string",
	TagData:        "data",
	TagUserClass:   "user class",
	TagUserDef:     "user defined",
	TagUserMarshal: "user marshal",
}

// String returns the name of the tag, or its byte value for unknown tags.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown tag %#02x", byte(t))
}

// Known returns true for tags that may begin a value.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// Regexp option bits.
const (
	RegexpIgnoreCase    = 1
	RegexpExtended      = 1 << 1
	RegexpMultiline     = 1 << 2
	RegexpFixedEncoding = 1 << 4
	RegexpNoEncoding    = 1 << 5
)

const (
	// The lowest and highest values written inline as a fixnum. Anything else is a bignum.
	FixnumMin = -0x40000000
	FixnumMax = +0x3FFFFFFF
)

// FitsFixnum returns true if n is written inline as a fixnum.
func FitsFixnum(n int64) bool {
	return FixnumMin <= n && n <= FixnumMax
}

// Names of the instance variables that carry a string's encoding.
const (
	// IVarEncodingShort is set to true for UTF-8 and false for US-ASCII.
	IVarEncodingShort Symbol = "E"

	// IVarEncoding holds the name of any other encoding.
	IVarEncoding Symbol = "encoding"
)

// Encoding names with special handling.
const (
	EncodingBinary = ""
	EncodingUTF8   = "UTF-8"
	EncodingASCII  = "US-ASCII"
)
