package fixedwidth

import (
	"errors"
	"io"
	"strings"
	"testing"

	"opiload/internal/schema"
)

func mustSchema(t *testing.T, text string) *schema.Schema {
	t.Helper()
	s, err := schema.ParseString(text)
	if err != nil {
		t.Fatalf("schema.ParseString() err=%v", err)
	}
	return s
}

// TestCoerce verifies the null rules and their order.
func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Value
	}{
		{" 123 ", Text("123")},
		{"", Null()},
		{"     ", Null()},
		{"0001-01-01", Null()},
		{"  0001-01-01  ", Null()},
		{"0001-01-02", Text("0001-01-02")},
		{"???", Null()},
		{"?", Null()},
		{" ?? ", Null()},
		{"wh?t", Text("wh?t")},
		{"?a?", Text("?a?")},
		{"\tJohn\r", Text("John")},
	}
	for _, tc := range tests {
		if got := Coerce(tc.in); got != tc.want {
			t.Fatalf("Coerce(%q)=%+v, want %+v", tc.in, got, tc.want)
		}
	}
}

// TestDecodeSlicing verifies byte-offset slicing for short, partial and full
// lines.
func TestDecodeSlicing(t *testing.T) {
	t.Parallel()

	s := mustSchema(t, "ID  id  CHAR  1  4\nNAME  name  CHAR  5  6\nAMT  amount  DECIMAL  11  5\n")
	d := NewDecoder(s)

	tests := []struct {
		line string
		want []Value
	}{
		{"0001John  00012", []Value{Text("0001"), Text("John"), Text("00012")}},
		{"0001Jo", []Value{Text("0001"), Text("Jo"), Null()}},
		{"0001", []Value{Text("0001"), Null(), Null()}},
		{"00", []Value{Text("00"), Null(), Null()}},
		{"", []Value{Null(), Null(), Null()}},
		{"0001John  0001299999", []Value{Text("0001"), Text("John"), Text("00012")}},
	}
	for _, tc := range tests {
		rec := d.DecodeString(tc.line)
		if len(rec.Values) != len(tc.want) {
			t.Fatalf("Decode(%q) len=%d, want %d", tc.line, len(rec.Values), len(tc.want))
		}
		for i := range tc.want {
			if rec.Values[i] != tc.want[i] {
				t.Fatalf("Decode(%q)[%d]=%+v, want %+v", tc.line, i, rec.Values[i], tc.want[i])
			}
		}
	}
}

// TestDecodeByteOffsets verifies multi-byte UTF-8 does not shift later fields.
func TestDecodeByteOffsets(t *testing.T) {
	t.Parallel()

	s := mustSchema(t, "A  a  CHAR  1  2\nB  b  CHAR  3  3\n")
	d := NewDecoder(s)

	// "é" is two bytes, so it fills field A exactly.
	rec := d.DecodeString("éXYZ")
	if a, _ := rec.Get("A"); a != Text("é") {
		t.Fatalf("A=%+v, want é", a)
	}
	if b, _ := rec.Get("B"); b != Text("XYZ") {
		t.Fatalf("B=%+v, want XYZ", b)
	}
}

// TestDecodeCharset verifies Latin-1 bytes are converted after slicing.
func TestDecodeCharset(t *testing.T) {
	t.Parallel()

	enc, err := Charset("latin1")
	if err != nil || enc == nil {
		t.Fatalf("Charset(latin1)=%v,%v", enc, err)
	}
	s := mustSchema(t, "A  a  CHAR  1  4\nB  b  CHAR  5  2\n")
	d := NewDecoder(s, WithCharset(enc))

	rec := d.Decode([]byte{'J', 'o', 's', 0xE9, 'O', 'K'})
	if a, _ := rec.Get("A"); a != Text("José") {
		t.Fatalf("A=%+v, want José", a)
	}
	if b, _ := rec.Get("B"); b != Text("OK") {
		t.Fatalf("B=%+v, want OK", b)
	}

	if _, err := Charset("ebcdic"); err == nil {
		t.Fatalf("Charset(ebcdic) should fail")
	}
	if enc, err := Charset(""); enc != nil || err != nil {
		t.Fatalf("Charset(\"\")=%v,%v, want passthrough", enc, err)
	}
}

// TestDecodeDeterministic verifies identical input yields identical output.
func TestDecodeDeterministic(t *testing.T) {
	t.Parallel()

	s := mustSchema(t, "ID  id  CHAR  1  4\nNAME  name  CHAR  5  10\n")
	d := NewDecoder(s)
	line := "0001John      "

	first := d.DecodeString(line).Map()
	for i := 0; i < 10; i++ {
		again := d.DecodeString(line).Map()
		for k, v := range first {
			if again[k] != v {
				t.Fatalf("run %d: %s=%+v, want %+v", i, k, again[k], v)
			}
		}
	}
	if _, ok := d.DecodeString(line).Get("MISSING"); ok {
		t.Fatalf("Get(MISSING) ok=true")
	}
}

// TestReaderSkipsBlankLines verifies blank lines are skipped while line
// numbers stay physical.
func TestReaderSkipsBlankLines(t *testing.T) {
	t.Parallel()

	s := mustSchema(t, "ID  id  CHAR  1  4\n")
	r := NewReader(strings.NewReader("0001\r\n\n   \n0002\n0003"), NewDecoder(s))

	var got []string
	var lines []int
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() err=%v", err)
		}
		got = append(got, row.Values[0].String)
		lines = append(lines, row.Line)
		row.Free()
	}
	wantVals := []string{"0001", "0002", "0003"}
	wantLines := []int{1, 4, 5}
	if len(got) != len(wantVals) {
		t.Fatalf("rows=%v, want %v", got, wantVals)
	}
	for i := range wantVals {
		if got[i] != wantVals[i] || lines[i] != wantLines[i] {
			t.Fatalf("row %d=%q@%d, want %q@%d", i, got[i], lines[i], wantVals[i], wantLines[i])
		}
	}
}

// TestValueBinding verifies Value binds as NULL or text.
func TestValueBinding(t *testing.T) {
	t.Parallel()

	if v, err := Null().Value(); v != nil || err != nil {
		t.Fatalf("Null().Value()=%v,%v", v, err)
	}
	if v, err := Text("x").Value(); v != "x" || err != nil {
		t.Fatalf("Text(x).Value()=%v,%v", v, err)
	}
	if got := FormatValues([]Value{Text("a"), Null()}); got != `["a" NULL]` {
		t.Fatalf("FormatValues()=%s", got)
	}
}
