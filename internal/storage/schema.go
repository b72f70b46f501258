package storage

import (
	"fmt"
	"strings"
)

// StorageType is the engine-neutral column type.
type StorageType int

const (
	TypeText StorageType = iota
	TypeReal
)

func (t StorageType) String() string {
	if t == TypeReal {
		return "real"
	}
	return "text"
}

// fieldTypes is the single mapping from descriptor field types to storage
// types. Anything absent maps to TypeText.
var fieldTypes = map[string]StorageType{
	"DECIMAL": TypeReal,
}

// StorageTypeOf maps a descriptor field type (CHAR, DECIMAL, DATE, ...) to a
// storage type.
func StorageTypeOf(fieldType string) StorageType {
	if t, ok := fieldTypes[strings.ToUpper(strings.TrimSpace(fieldType))]; ok {
		return t
	}
	return TypeText
}

// ColumnDef is one column of a table.
type ColumnDef struct {
	Name string
	Type StorageType
}

// ForeignKey constrains Column to values of RefTable(RefColumn).
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableDef describes a table to create. Exactly one of PrimaryKey and
// ForeignKey is normally set: the reference table carries the primary key,
// every other table a foreign key into it.
type TableDef struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey string
	ForeignKey *ForeignKey
}

// Validate checks that names are present and key columns exist.
func (t TableDef) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("storage: table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("storage: table %s: column name is empty", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("storage: table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	if t.PrimaryKey != "" && !seen[t.PrimaryKey] {
		return fmt.Errorf("storage: table %s: primary key %s is not a column", t.Name, t.PrimaryKey)
	}
	if fk := t.ForeignKey; fk != nil {
		if !seen[fk.Column] {
			return fmt.Errorf("storage: table %s: foreign key %s is not a column", t.Name, fk.Column)
		}
		if fk.RefTable == "" || fk.RefColumn == "" {
			return fmt.Errorf("storage: table %s: foreign key target is empty", t.Name)
		}
	}
	return nil
}

// IsKey reports whether col participates in the primary or foreign key.
func (t TableDef) IsKey(col string) bool {
	if col == t.PrimaryKey {
		return true
	}
	return t.ForeignKey != nil && t.ForeignKey.Column == col
}

// TableBody renders the parenthesized part of CREATE TABLE for d:
// one definition per column, then the key constraint.
func TableBody(d Dialect, t TableDef) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		parts = append(parts, d.QuoteIdent(c.Name)+" "+d.ColumnType(c.Type, t.IsKey(c.Name)))
	}
	if t.PrimaryKey != "" {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", d.QuoteIdent(t.PrimaryKey)))
	}
	if fk := t.ForeignKey; fk != nil {
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
			d.QuoteIdent(fk.Column), d.QuoteIdent(fk.RefTable), d.QuoteIdent(fk.RefColumn)))
	}
	return "(\n  " + strings.Join(parts, ",\n  ") + "\n)", nil
}

// CreateIfNotExists renders the common "CREATE TABLE IF NOT EXISTS" form.
func CreateIfNotExists(d Dialect, t TableDef) (string, error) {
	body, err := TableBody(d, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", d.QuoteIdent(t.Name), body), nil
}

// InsertDef describes a positional insert.
type InsertDef struct {
	Table   string
	Columns []string
}

// InsertSQL renders "INSERT INTO t (a, b) VALUES (?, ?)" with d's quoting
// and placeholders.
func InsertSQL(d Dialect, ins InsertDef) (string, error) {
	if strings.TrimSpace(ins.Table) == "" {
		return "", fmt.Errorf("storage: insert: table is empty")
	}
	if len(ins.Columns) == 0 {
		return "", fmt.Errorf("storage: insert into %s: no columns", ins.Table)
	}
	cols := make([]string, len(ins.Columns))
	ph := make([]string, len(ins.Columns))
	for i, c := range ins.Columns {
		cols[i] = d.QuoteIdent(c)
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdent(ins.Table), strings.Join(cols, ", "), strings.Join(ph, ", ")), nil
}

// QuoteWith doubles any closing quote inside name and wraps it.
func QuoteWith(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}
