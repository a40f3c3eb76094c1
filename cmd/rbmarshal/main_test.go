package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stewi1014/rmarshal/encio"
)

// {:a=>1, "b"=>[nil, 2.5]}
const hashData = "\x04\x08{\x07:\x06ai\x06I\"\x06b\x06:\x06ET[\x070f\x082.5"

func testOptions(format string, all bool) options {
	return options{format: format, all: all, logger: zap.NewNop()}
}

func runString(t *testing.T, opts options, cmd, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(opts, cmd, "", strings.NewReader(input), &out)
	return out.String(), err
}

func TestInspectJSON(t *testing.T) {
	out, err := runString(t, testOptions(formatJSON, false), "inspect", hashData)
	require.NoError(t, err)
	require.JSONEq(t, `{"__symbol__a": 1, "b": [null, "__float__2.5"]}`, out)
	require.True(t, strings.HasSuffix(out, "\n"))
}

func TestInspectYAML(t *testing.T) {
	out, err := runString(t, testOptions(formatYAML, false), "inspect", hashData)
	require.NoError(t, err)
	require.Contains(t, out, "__symbol__a: 1\n")
	require.Contains(t, out, "- __float__2.5\n")
}

func TestBuild(t *testing.T) {
	for _, format := range []string{formatJSON, formatYAML} {
		t.Run(format, func(t *testing.T) {
			doc, err := runString(t, testOptions(format, false), "inspect", hashData)
			require.NoError(t, err)

			out, err := runString(t, testOptions(format, false), "build", doc)
			require.NoError(t, err)
			require.Equal(t, hashData, out)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for desc, data := range map[string]string{
		"object":        "\x04\x08o:\x09User\x07:\x0a@nameI\"\x08bob\x06:\x06ET:\x09@agei\x08",
		"struct":        "\x04\x08S:\x0aPoint\x07:\x06xi\x06:\x06yi\x07",
		"user defined":  "\x04\x08Iu:\x09Time\x07ab\x06:\x06ET",
		"user marshal":  "\x04\x08U:\x06M[\x06i\x06",
		"data":          "\x04\x08d:\x06D0",
		"user class":    "\x04\x08IC:\x08Str\"\x06x\x06:\x06ET",
		"regexp":        "\x04\x08I/\x07a+\x01\x06:\x06EF",
		"class":         "\x04\x08c\x0bString",
		"module":        "\x04\x08M\x06K",
		"sjis":          "\x04\x08I\"\x07\x82\xa0\x06:\x0dencoding\"\x0eShift_JIS",
		"binary":        "\x04\x08\"\x07\xff\x00",
		"ascii":         "\x04\x08I\"\x06a\x06:\x06EF",
		"extended hash": "\x04\x08e:\x06A}\x00i\x06",
		"bignum":        "\x04\x08l+\x0a\x00\x00\x00\x00\x00\x00\x00\x00\x02\x00",
		"symbol":        "\x04\x08:\x09name",
		"dunder string": "\x04\x08I\"\x0b__init\x06:\x06ET",
		"hash order":    "\x04\x08{\x07I\"\x06b\x06:\x06ETi\x06I\"\x06a\x06;\x00Ti\x07",
		"array key":     "\x04\x08{\x06[\x06i\x06i\x07",
		"hash default":  "\x04\x08}\x07:\x06bi\x06:\x06ai\x07i\x08",
		"shared string": "\x04\x08[\x07I\"\x06x\x06:\x06ET@\x06",
		"shared bignum": "\x04\x08[\x07l+\x0a\x00\x00\x00\x00\x00\x00\x00\x00\x02\x00@\x06",
		"cyclic array":  "\x04\x08[\x06@\x00",
		"cyclic object": "\x04\x08o:\x06A\x06:\x07@a@\x00",
		"shared hash":   "\x04\x08[\x07{\x00@\x06",
	} {
		t.Run(desc, func(t *testing.T) {
			doc, err := runString(t, testOptions(formatJSON, false), "inspect", data)
			require.NoError(t, err)

			out, err := runString(t, testOptions(formatJSON, false), "build", doc)
			require.NoError(t, err)
			require.Equal(t, data, out, "document:\n%s", doc)
		})
	}
}

func TestAll(t *testing.T) {
	data := "\x04\x08i\x06\x04\x08:\x06a"

	doc, err := runString(t, testOptions(formatJSON, true), "inspect", data)
	require.NoError(t, err)
	require.JSONEq(t, `[1, "__symbol__a"]`, doc)

	out, err := runString(t, testOptions(formatJSON, true), "build", doc)
	require.NoError(t, err)
	require.Equal(t, data, out)

	_, err = runString(t, testOptions(formatJSON, true), "build", `{}`)
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strings: binary\n"), 0o600))

	opts := testOptions(formatJSON, false)
	opts.configPath = path
	out, err := runString(t, opts, "build", `"x"`)
	require.NoError(t, err)
	require.Equal(t, "\x04\x08\"\x06x", out)

	require.NoError(t, os.WriteFile(path, []byte("strings: latin1\n"), 0o600))
	_, err = runString(t, opts, "build", `"x"`)
	require.Error(t, err)
}

func TestInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte(hashData), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(testOptions(formatJSON, false), "inspect", path, nil, &out))
	require.JSONEq(t, `{"__symbol__a": 1, "b": [null, "__float__2.5"]}`, out.String())
}

func TestErrors(t *testing.T) {
	_, err := runString(t, testOptions(formatJSON, false), "inspect", "\x04\x09\x30")
	require.ErrorIs(t, err, encio.ErrFormat)

	_, err = runString(t, testOptions(formatJSON, false), "frobnicate", "")
	require.ErrorContains(t, err, "unknown command")

	_, err = runString(t, testOptions("xml", false), "inspect", hashData)
	require.ErrorContains(t, err, "unknown format")

	_, err = runString(t, testOptions(formatJSON, false), "build", `{"__ruby__": "link", "id": 3}`)
	require.ErrorContains(t, err, "undefined anchor 3")

	_, err = runString(t, testOptions(formatJSON, false), "build",
		`[{"__ruby__": "anchor", "id": 0, "value": []}, {"__ruby__": "anchor", "id": 0, "value": []}]`)
	require.ErrorContains(t, err, "defined twice")

	_, err = runString(t, testOptions(formatJSON, false), "build", `{"__ruby__": "hash", "entries": [[1]]}`)
	require.ErrorContains(t, err, "pair")

	_, err = runString(t, testOptions(formatJSON, false), "build", `{"__ruby__": "object"}`)
	require.ErrorContains(t, err, "class is required")

	_, err = runString(t, testOptions(formatJSON, false), "build", `{"__ruby__": "teapot"}`)
	require.ErrorContains(t, err, "unknown kind")

	_, err = runString(t, testOptions(formatJSON, false), "build", `[`)
	require.Error(t, err)
}

func TestInspectShared(t *testing.T) {
	// a = []; a << a
	out, err := runString(t, testOptions(formatJSON, false), "inspect", "\x04\x08[\x06@\x00")
	require.NoError(t, err)
	require.JSONEq(t, `{"__ruby__": "anchor", "id": 0, "value": [{"__ruby__": "link", "id": 0}]}`, out)

	// s = "x"; [s, s]
	out, err = runString(t, testOptions(formatJSON, false), "inspect", "\x04\x08[\x07I\"\x06x\x06:\x06ET@\x06")
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"__ruby__": "anchor", "id": 0, "value": {"__ruby__": "string", "data": "x", "encoding": "UTF-8"}},
		{"__ruby__": "link", "id": 0}
	]`, out)
}

func TestInspectHashOrder(t *testing.T) {
	// {"b"=>1, "a"=>2}
	out, err := runString(t, testOptions(formatJSON, false), "inspect", "\x04\x08{\x07I\"\x06b\x06:\x06ETi\x06I\"\x06a\x06;\x00Ti\x07")
	require.NoError(t, err)
	require.JSONEq(t, `{"__ruby__": "hash", "entries": [["b", 1], ["a", 2]]}`, out)
}
