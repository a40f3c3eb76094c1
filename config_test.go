package rmarshal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/maxatome/go-testdeep/td"

	"github.com/stewi1014/rmarshal"
)

func TestParseConfig(t *testing.T) {
	config, err := rmarshal.ParseConfig([]byte(`
strings: wrap
numbers: boxed
hashes: string
regexps: compile
ivars: prefix
ivar_prefix: at_
symbol_keys_as_strings: true
max_size: 1024
max_depth: 16
`))
	td.CmpNoError(t, err)
	td.Cmp(t, config, &rmarshal.Config{
		Strings:    rmarshal.StringWrap,
		Numbers:    rmarshal.NumberBoxed,
		Hashes:     rmarshal.HashStringKeyed,
		Regexps:    rmarshal.RegexpCompile,
		IVars:      rmarshal.IVarPrefix,
		IVarPrefix: "at_",
		MaxSize:    1024,
		MaxDepth:   16,

		SymbolKeysAsStrings: true,
	})

	config, err = rmarshal.ParseConfig(nil)
	td.CmpNoError(t, err)
	td.Cmp(t, config, &rmarshal.Config{})
}

func TestConfigValidate(t *testing.T) {
	_, err := rmarshal.ParseConfig([]byte("strings: latin1\nhashes: tree\n"))
	td.CmpTrue(t, errors.Is(err, rmarshal.ErrConfig))
	td.Cmp(t, err.Error(), td.Contains(`"latin1"`))

	_, err = rmarshal.ParseConfig([]byte("strings: [a"))
	td.CmpError(t, err)

	td.CmpNoError(t, (&rmarshal.Config{}).Validate())
	td.CmpNoError(t, (&rmarshal.Config{IVars: rmarshal.IVarStrip}).Validate())
	td.CmpTrue(t, errors.Is((&rmarshal.Config{IVars: "drop"}).Validate(), rmarshal.ErrConfig))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmarshal.yaml")
	td.CmpNoError(t, os.WriteFile(path, []byte("strings: binary\n"), 0o600))

	config, err := rmarshal.LoadConfig(path)
	td.CmpNoError(t, err)
	td.Cmp(t, config.Strings, rmarshal.StringBinary)

	data, err := rmarshal.Dump("x", config)
	td.CmpNoError(t, err)
	td.Cmp(t, string(data), "\x04\x08\"\x06x")

	_, err = rmarshal.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	td.CmpTrue(t, errors.Is(err, os.ErrNotExist))
}
