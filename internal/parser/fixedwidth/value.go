package fixedwidth

import (
	"database/sql/driver"
	"regexp"
	"strconv"
	"strings"
)

// NullDate is the sentinel the source data uses for an unset date.
const NullDate = "0001-01-01"

var allQuestionMarks = regexp.MustCompile(`^\?+$`)

// Value is an optional text value. The zero Value is null.
//
// Value implements driver.Valuer so it can be bound directly as a statement
// parameter: a null Value binds as SQL NULL, otherwise as text.
type Value struct {
	String string
	Valid  bool
}

// Text returns a non-null Value.
func Text(s string) Value { return Value{String: s, Valid: true} }

// Null returns the null Value.
func Null() Value { return Value{} }

// Value implements driver.Valuer.
func (v Value) Value() (driver.Value, error) {
	if !v.Valid {
		return nil, nil
	}
	return v.String, nil
}

// Format renders v for human-readable messages: NULL or a quoted string.
func (v Value) Format() string {
	if !v.Valid {
		return "NULL"
	}
	return strconv.Quote(v.String)
}

// Coerce applies the null rules to one raw field value:
//  1. trim surrounding whitespace
//  2. empty                  -> null
//  3. "0001-01-01"           -> null
//  4. one or more '?' only   -> null
//  5. otherwise the trimmed text
func Coerce(raw string) Value {
	v := strings.TrimSpace(raw)
	switch {
	case v == "":
		return Null()
	case v == NullDate:
		return Null()
	case allQuestionMarks.MatchString(v):
		return Null()
	}
	return Text(v)
}

// FormatValues renders vs as "[a b NULL]" for error messages.
func FormatValues(vs []Value) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.Format())
	}
	b.WriteByte(']')
	return b.String()
}
