// Package fixedwidth decodes fixed-width records using a parsed descriptor
// schema.
//
// Field positions are byte offsets. A line is never reinterpreted as runes
// before slicing, so multi-byte sequences in the source cannot shift columns.
package fixedwidth

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"opiload/internal/schema"
)

// Charset returns the text encoding registered under name. The empty name
// and "utf-8" mean passthrough and return a nil encoding.
func Charset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "none":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("fixedwidth: unsupported charset %q", name)
	}
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithCharset decodes every sliced field from enc to UTF-8 before coercion.
// A nil enc leaves bytes untouched.
func WithCharset(enc encoding.Encoding) Option {
	return func(d *Decoder) {
		if enc != nil {
			d.charset = enc.NewDecoder()
		}
	}
}

// Decoder turns raw lines into Records for one schema.
//
// A Decoder with a charset holds conversion state and must not be shared
// across goroutines; one per loader is the intended use.
type Decoder struct {
	schema  *schema.Schema
	fields  []schema.Field
	charset *encoding.Decoder
}

// NewDecoder builds a Decoder for s.
func NewDecoder(s *schema.Schema, opts ...Option) *Decoder {
	d := &Decoder{schema: s, fields: s.Fields()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Schema returns the schema d decodes against.
func (d *Decoder) Schema() *schema.Schema { return d.schema }

// Width returns the number of values in every decoded record.
func (d *Decoder) Width() int { return len(d.fields) }

// Decode returns a new Record for line. Identical input always yields an
// identical Record.
func (d *Decoder) Decode(line []byte) Record {
	vals := make([]Value, len(d.fields))
	d.DecodeInto(vals, line)
	return Record{schema: d.schema, Values: vals}
}

// DecodeString is Decode for string input.
func (d *Decoder) DecodeString(line string) Record {
	return d.Decode([]byte(line))
}

// DecodeInto writes one value per field into dst, which must have length
// Width().
func (d *Decoder) DecodeInto(dst []Value, line []byte) {
	for i, f := range d.fields {
		dst[i] = Coerce(d.text(slice(line, f)))
	}
}

func (d *Decoder) text(raw []byte) string {
	if d.charset == nil || len(raw) == 0 {
		return string(raw)
	}
	out, err := d.charset.Bytes(raw)
	if err != nil {
		// Single-byte charmaps never fail; keep the raw bytes if one does.
		return string(raw)
	}
	return string(out)
}

// slice returns the bytes of f in line:
//   - line shorter than the start: empty
//   - line ends inside the field: what is available
//   - otherwise the full field
func slice(line []byte, f schema.Field) []byte {
	lo, hi := f.Offsets()
	if len(line) <= lo {
		return nil
	}
	if len(line) < hi {
		return line[lo:]
	}
	return line[lo:hi]
}

// Record is one decoded line: one optional value per schema field, in
// schema order.
type Record struct {
	schema *schema.Schema
	Values []Value
}

// Get returns the value for code. ok is false when code is not in the schema.
func (r Record) Get(code string) (v Value, ok bool) {
	if r.schema == nil {
		return Value{}, false
	}
	i, ok := r.schema.Index(code)
	if !ok || i >= len(r.Values) {
		return Value{}, false
	}
	return r.Values[i], true
}

// Map returns the record as code -> value.
func (r Record) Map() map[string]Value {
	out := make(map[string]Value, len(r.Values))
	if r.schema == nil {
		return out
	}
	for i, c := range r.schema.Codes() {
		out[c] = r.Values[i]
	}
	return out
}
