// Package schema parses NC DAC field-layout descriptors (.des files) and
// resolves the key column of a parsed layout.
package schema

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMalformedSchema reports a descriptor line that matched the layout
	// pattern but carried an unusable start or length.
	ErrMalformedSchema = errors.New("schema: malformed descriptor")

	// ErrMissingPrimaryKey reports a schema with none of the key candidates.
	ErrMissingPrimaryKey = errors.New("schema: no primary key candidate present")
)

// DefaultKeyCandidates is the ordered list of key columns tried by Resolve.
// Order matters: the first present code wins.
var DefaultKeyCandidates = []string{"CMDORNUM", "CIDORNUM", "CDDORNUM"}

// lineRE matches: code, >=2 spaces, description (lazy), >=2 spaces,
// TYPE, start, length.
var lineRE = regexp.MustCompile(`^(\S+)\s{2,}(.+?)\s{2,}([A-Z]+)\s+(\d+)\s+(\d+)`)

// Field is one fixed-width column definition.
type Field struct {
	Code        string
	Description string
	Type        string
	Start       int // 1-indexed byte position
	Length      int
}

// Offsets returns the half-open, 0-indexed byte range of f.
func (f Field) Offsets() (lo, hi int) {
	lo = f.Start - 1
	return lo, lo + f.Length
}

// Schema maps field codes to definitions. Fields keep the order in which
// their code first appeared in the descriptor.
//
// A Schema is immutable once returned by Parse.
type Schema struct {
	fields []Field
	index  map[string]int
}

// Len returns the number of distinct fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in descriptor order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the definition for code.
func (s *Schema) Field(code string) (Field, bool) {
	i, ok := s.index[code]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Index returns the position of code in descriptor order.
func (s *Schema) Index(code string) (int, bool) {
	i, ok := s.index[code]
	return i, ok
}

// Has reports whether code is defined.
func (s *Schema) Has(code string) bool {
	_, ok := s.index[code]
	return ok
}

// Codes returns field codes in descriptor order.
func (s *Schema) Codes() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Code
	}
	return out
}

// Parse reads a descriptor and builds a Schema.
//
// Behavior:
//   - Each line is right-trimmed, then matched against the layout pattern.
//   - Blank and non-matching lines (headers, separators, notes) are skipped.
//   - A repeated code replaces the earlier definition but keeps its position.
//
// Errors:
//   - ErrMalformedSchema when a matched start/length does not parse or is < 1.
//   - Read errors from r, wrapped.
func Parse(r io.Reader) (*Schema, error) {
	s := &Schema{index: make(map[string]int)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r\n\v\f")
		if line == "" {
			continue
		}
		m := lineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		start, err := strconv.Atoi(m[4])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: start %q: %v", ErrMalformedSchema, lineNo, m[4], err)
		}
		length, err := strconv.Atoi(m[5])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: length %q: %v", ErrMalformedSchema, lineNo, m[5], err)
		}
		if start < 1 || length < 1 {
			return nil, fmt.Errorf("%w: line %d: field %s start=%d length=%d", ErrMalformedSchema, lineNo, m[1], start, length)
		}

		f := Field{
			Code:        m[1],
			Description: strings.TrimSpace(m[2]),
			Type:        m[3],
			Start:       start,
			Length:      length,
		}
		if i, ok := s.index[f.Code]; ok {
			s.fields[i] = f
			continue
		}
		s.index[f.Code] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("schema: read descriptor: %w", err)
	}
	return s, nil
}

// ParseString is Parse over an in-memory descriptor.
func ParseString(text string) (*Schema, error) {
	return Parse(strings.NewReader(text))
}

// Resolve returns the first code in candidates that s defines. When
// candidates is empty, DefaultKeyCandidates is used.
func Resolve(s *Schema, candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultKeyCandidates
	}
	if s != nil {
		for _, c := range candidates {
			if s.Has(c) {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrMissingPrimaryKey, strings.Join(candidates, ", "))
}
