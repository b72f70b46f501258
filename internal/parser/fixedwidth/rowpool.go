package fixedwidth

import "sync"

// Row is a pooled decoded record plus its physical line number.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - The final consumer calls Free once nothing references r.Values.
//   - Rows abandoned on an error path are Dropped, not Freed, so a row still
//     referenced by a half-built batch is never handed out again.
type Row struct {
	Values []Value
	Line   int // 1-based physical line in the data file
}

var rowPool sync.Pool

// GetRow returns a Row with len(Values) == width, all values null.
func GetRow(width int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.Values) < width {
			r.Values = make([]Value, width)
		}
		r.Values = r.Values[:width]
		for i := range r.Values {
			r.Values[i] = Value{}
		}
		r.Line = 0
		return r
	}
	return &Row{Values: make([]Value, width)}
}

// Args returns the row values as statement arguments.
func (r *Row) Args(dst []any) []any {
	dst = dst[:0]
	for _, v := range r.Values {
		dst = append(dst, v)
	}
	return dst
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without pooling it.
func (r *Row) Drop() {
	r.Values = nil
	r.Line = 0
}
