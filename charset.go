package rmarshal

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrUnknownCharset is returned when a string's encoding has no decoder.
var ErrUnknownCharset = errors.New("unknown charset")

var charsets sync.Map // string -> encoding.Encoding

// charset returns the decoder for a Ruby encoding name.
// IANA names are tried first, then WHATWG labels, which cover names like "Windows-31J".
func charset(name string) (encoding.Encoding, error) {
	if enc, ok := charsets.Load(name); ok {
		return enc.(encoding.Encoding), nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if enc == nil || err != nil {
		enc, err = htmlindex.Get(strings.ToLower(name))
	}
	if enc == nil || err != nil {
		return nil, errors.Wrapf(ErrUnknownCharset, "%q", name)
	}

	charsets.Store(name, enc)
	return enc, nil
}

// transcode converts data in the named charset to UTF-8.
func transcode(data []byte, name string) (string, error) {
	enc, err := charset(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.Wrapf(err, "decoding %v", name)
	}
	return string(out), nil
}
