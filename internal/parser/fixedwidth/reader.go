package fixedwidth

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single record line.
const MaxLineBytes = 4 * 1024 * 1024

// Reader streams decoded rows from fixed-width data.
//
// Lines are split on '\n' with a trailing '\r' removed. Lines that are empty
// or whitespace-only are skipped but still advance the line counter, so
// Row.Line always points at the physical line in the source.
type Reader struct {
	sc   *bufio.Scanner
	dec  *Decoder
	line int
}

// NewReader returns a Reader decoding r with dec.
func NewReader(r io.Reader, dec *Decoder) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &Reader{sc: sc, dec: dec}
}

// Next returns the next decoded row. It returns io.EOF after the last row.
// The caller owns the returned Row and must Free or Drop it.
func (r *Reader) Next() (*Row, error) {
	for r.sc.Scan() {
		r.line++
		raw := bytes.TrimSuffix(r.sc.Bytes(), []byte{'\r'})
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		row := GetRow(r.dec.Width())
		row.Line = r.line
		r.dec.DecodeInto(row.Values, raw)
		return row, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("fixedwidth: read line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Line returns the physical line number of the last line read.
func (r *Reader) Line() int { return r.line }
