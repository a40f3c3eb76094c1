package rmarshal

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stewi1014/rmarshal/types"
)

// StringMode selects the Go type strings are loaded as.
type StringMode string

const (
	// StringAuto loads strings with a text encoding as string, binary strings as []byte,
	// and strings carrying other instance variables as *types.String.
	StringAuto StringMode = "auto"

	// StringUTF8 loads every string as a Go string, transcoding other charsets to UTF-8.
	StringUTF8 StringMode = "utf8"

	// StringBinary loads every string as []byte. Go strings are dumped without an encoding.
	StringBinary StringMode = "binary"

	// StringWrap loads every string as *types.String.
	StringWrap StringMode = "wrap"
)

// NumberMode selects the Go type numbers are loaded as.
type NumberMode string

const (
	// NumberNative loads fixnums as int, bignums as *big.Int and floats as float64.
	NumberNative NumberMode = "native"

	// NumberBoxed loads numbers as types.Integer, *types.Bignum and *types.Float.
	NumberBoxed NumberMode = "boxed"
)

// HashMode selects the Go type hashes are loaded as.
type HashMode string

const (
	// HashWrap loads hashes as *types.Hash, which keeps order, any key and the default.
	HashWrap HashMode = "wrap"

	// HashMap loads hashes as map[any]any. Keys Go can't compare are stored as types.CompositeKey,
	// and the default under types.DefaultKey{}.
	HashMap HashMode = "map"

	// HashStringKeyed loads hashes as map[string]any, with non-string keys written as synthetic keys by types.EncodeKey.
	// Dumping decodes the keys of map[string]any with types.DecodeKey.
	HashStringKeyed HashMode = "string"
)

// RegexpMode selects the Go type regular expressions are loaded as.
type RegexpMode string

const (
	// RegexpWrap loads regular expressions as *types.Regexp.
	RegexpWrap RegexpMode = "wrap"

	// RegexpCompile loads regular expressions as *regexp.Regexp where Go can compile them,
	// and as *types.Regexp where it can't.
	RegexpCompile RegexpMode = "compile"
)

// IVarMode selects how instance variable names of generic objects are loaded.
type IVarMode string

const (
	// IVarKeep leaves names as they are, "@name".
	IVarKeep IVarMode = "keep"

	// IVarPrefix replaces the leading '@' with Config.IVarPrefix when loading, and back when dumping.
	IVarPrefix IVarMode = "prefix"

	// IVarStrip removes the leading '@' when loading, and adds it back when dumping.
	IVarStrip IVarMode = "strip"
)

const (
	// DefaultMaxDepth is the nesting limit used when Config.MaxDepth is zero.
	DefaultMaxDepth = 4096

	// DefaultIVarPrefix is used when Config.IVars is IVarPrefix and Config.IVarPrefix is empty.
	DefaultIVarPrefix = "_"
)

// Config defines configuration for Encoders and Decoders.
// The zero value is usable; a nil *Config is the same as the zero value.
type Config struct {
	Strings StringMode `yaml:"strings"`
	Numbers NumberMode `yaml:"numbers"`
	Hashes  HashMode   `yaml:"hashes"`
	Regexps RegexpMode `yaml:"regexps"`
	IVars   IVarMode   `yaml:"ivars"`

	// IVarPrefix replaces '@' in IVarPrefix mode.
	IVarPrefix string `yaml:"ivar_prefix"`

	// SymbolKeysAsStrings loads symbol keys of HashStringKeyed hashes as their plain names.
	// They are dumped back as strings.
	SymbolKeysAsStrings bool `yaml:"symbol_keys_as_strings"`

	// MaxSize limits the size of dumped data in bytes. Zero means no limit.
	MaxSize int `yaml:"max_size"`

	// MaxDepth limits nesting in both directions.
	MaxDepth int `yaml:"max_depth"`

	// Classes maps between class names and Go types.
	// If nil, types.DefaultRegistry is used, and types must be registered with Register().
	Classes types.ClassResolver `yaml:"-"`

	// NameUnknown is asked for a class name for Go structs that Classes doesn't know.
	// Such structs are dumped as generic objects with their fields as instance variables.
	NameUnknown func(v any) (types.Symbol, bool) `yaml:"-"`

	// Logger receives warnings where a value can't be represented exactly.
	// If nil, nothing is logged.
	Logger *zap.Logger `yaml:"-"`
}

func (c *Config) copyAndFill() *Config {
	config := new(Config)
	if c != nil {
		*config = *c
	}

	if config.Strings == "" {
		config.Strings = StringAuto
	}
	if config.Numbers == "" {
		config.Numbers = NumberNative
	}
	if config.Hashes == "" {
		config.Hashes = HashWrap
	}
	if config.Regexps == "" {
		config.Regexps = RegexpWrap
	}
	if config.IVars == "" {
		config.IVars = IVarKeep
	}
	if config.IVars == IVarPrefix && config.IVarPrefix == "" {
		config.IVarPrefix = DefaultIVarPrefix
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	if config.Classes == nil {
		config.Classes = types.DefaultRegistry
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return config
}

// ErrConfig is returned by Validate and LoadConfig for unknown modes.
var ErrConfig = errors.New("invalid config")

// Validate returns an error if a mode is set to an unknown value.
func (c *Config) Validate() error {
	check := func(field string, value string, valid ...string) error {
		if value == "" {
			return nil
		}
		for _, v := range valid {
			if value == v {
				return nil
			}
		}
		return errors.Wrapf(ErrConfig, "%v must be one of %v, got %q", field, valid, value)
	}

	var err error
	for _, e := range []error{
		check("strings", string(c.Strings), string(StringAuto), string(StringUTF8), string(StringBinary), string(StringWrap)),
		check("numbers", string(c.Numbers), string(NumberNative), string(NumberBoxed)),
		check("hashes", string(c.Hashes), string(HashWrap), string(HashMap), string(HashStringKeyed)),
		check("regexps", string(c.Regexps), string(RegexpWrap), string(RegexpCompile)),
		check("ivars", string(c.IVars), string(IVarKeep), string(IVarPrefix), string(IVarStrip)),
	} {
		err = errors.CombineErrors(err, e)
	}
	return err
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return ParseConfig(buff)
}

// ParseConfig reads a Config from YAML.
func ParseConfig(buff []byte) (*Config, error) {
	config := new(Config)
	if err := yaml.Unmarshal(buff, config); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
