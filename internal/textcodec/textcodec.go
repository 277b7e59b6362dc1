// Package textcodec turns received byte chunks into text without ever
// failing on bad input.
package textcodec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when no encoding name is given.
const DefaultEncoding = "utf-8"

// Decoder decodes chunks in one text encoding. It is safe for concurrent use.
type Decoder struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

// NewDecoder looks up name in the WHATWG encoding index ("utf-8",
// "latin1", "windows-1252", ...). An empty name selects UTF-8.
func NewDecoder(name string) (*Decoder, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = name
	}
	return &Decoder{
		name: canonical,
		enc:  enc,
		utf8: canonical == "utf-8",
	}, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string { return d.name }

// Decode returns chunk as text. Invalid sequences become U+FFFD.
func (d *Decoder) Decode(chunk []byte) string {
	if d.utf8 && utf8.Valid(chunk) {
		return string(chunk)
	}

	out, err := d.enc.NewDecoder().Bytes(chunk)
	if err != nil {
		return strings.ToValidUTF8(string(chunk), string(utf8.RuneError))
	}
	return string(out)
}
