// The rbmarshal command converts between Ruby's Marshal format and JSON or YAML.
//
// Usage:
//
//	rbmarshal [flags] inspect [file]
//	rbmarshal [flags] build [file]
//
// inspect prints the value in a Marshal file as JSON or YAML.
// build reads such a document and writes it in the Marshal format.
// Both read standard input if no file is given, and write standard output.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stewi1014/rmarshal"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	configPath string
	format     string
	all        bool
	logger     *zap.Logger
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML file with codec configuration")
		format     = flag.String("format", formatJSON, "document format, json or yaml")
		all        = flag.Bool("all", false, "read or write every stream in the file, as a list")
		verbose    = flag.Bool("v", false, "log where values can't be represented exactly")
	)
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "usage: rbmarshal [flags] <command> [file]\n")
		fmt.Fprintf(out, "  inspect [file]: print a Marshal file as a document\n")
		fmt.Fprintf(out, "  build [file]: write a document in the Marshal format\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, "rbmarshal:", err)
			os.Exit(1)
		}
	}
	defer func() { _ = logger.Sync() }()

	opts := options{
		configPath: *configPath,
		format:     *format,
		all:        *all,
		logger:     logger,
	}
	if err := run(opts, flag.Arg(0), flag.Arg(1), os.Stdin, os.Stdout); err != nil {
		logger.Debug("failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "rbmarshal:", err)
		os.Exit(1)
	}
}

func run(opts options, cmd, path string, stdin io.Reader, stdout io.Writer) error {
	if opts.format != formatJSON && opts.format != formatYAML {
		return errors.Newf("unknown format %q", opts.format)
	}

	// Wrapped strings keep their bytes and encoding, so inspect and build reproduce the input.
	config := &rmarshal.Config{Strings: rmarshal.StringWrap}
	if opts.configPath != "" {
		var err error
		if config, err = rmarshal.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	config.Logger = opts.logger

	var input []byte
	var err error
	if path == "" || path == "-" {
		input, err = io.ReadAll(stdin)
	} else {
		input, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrap(err, "reading input")
	}

	switch cmd {
	case "inspect":
		return inspect(opts, config, input, stdout)
	case "build":
		return buildMarshal(opts, config, input, stdout)
	default:
		return errors.Newf("unknown command %q", cmd)
	}
}

func inspect(opts options, config *rmarshal.Config, input []byte, stdout io.Writer) error {
	var doc any
	if opts.all {
		values, err := rmarshal.LoadAll(input, config)
		if err != nil {
			return err
		}
		views := make([]any, len(values))
		for i, v := range values {
			if views[i], err = toDocument(v); err != nil {
				return errors.Wrapf(err, "stream %d", i)
			}
		}
		doc = views
	} else {
		v, err := rmarshal.Load(input, config)
		if err != nil {
			return err
		}
		if doc, err = toDocument(v); err != nil {
			return err
		}
	}

	var out []byte
	var err error
	switch opts.format {
	case formatYAML:
		out, err = yaml.Marshal(doc)
	default:
		out, err = json.MarshalIndent(doc, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return errors.Wrap(err, "writing document")
	}
	_, err = stdout.Write(out)
	return err
}

func buildMarshal(opts options, config *rmarshal.Config, input []byte, stdout io.Writer) error {
	var doc any
	switch opts.format {
	case formatYAML:
		if err := yaml.Unmarshal(input, &doc); err != nil {
			return errors.Wrap(err, "reading document")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return errors.Wrap(err, "reading document")
		}
	}

	var out []byte
	if opts.all {
		list, ok := doc.([]any)
		if !ok {
			return errors.Newf("-all wants a list of values, got %T", doc)
		}
		values := make([]any, len(list))
		for i, elem := range list {
			var err error
			if values[i], err = fromDocument(elem); err != nil {
				return errors.Wrapf(err, "stream %d", i)
			}
		}
		var err error
		if out, err = rmarshal.DumpAll(values, config); err != nil {
			return err
		}
	} else {
		v, err := fromDocument(doc)
		if err != nil {
			return err
		}
		if out, err = rmarshal.Dump(v, config); err != nil {
			return err
		}
	}

	_, err := stdout.Write(out)
	return err
}
