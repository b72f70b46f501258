package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeDialect struct{}

func (fakeDialect) DriverName() string                          { return "fake-driver-not-registered" }
func (fakeDialect) DSN(cfg Config) (string, error)              { return cfg.DSN, nil }
func (fakeDialect) Session(Config, Durability) []string         { return nil }
func (fakeDialect) QuoteIdent(name string) string               { return QuoteWith(name, "`", "`") }
func (fakeDialect) Placeholder(n int) string                    { return fmt.Sprintf(":%d", n) }
func (fakeDialect) Classify(error) Class                        { return ClassFatal }
func (fakeDialect) RowSavepoints() bool                         { return false }
func (fakeDialect) TableExistsSQL() string                      { return "" }
func (d fakeDialect) CreateTableSQL(t TableDef) (string, error) { return CreateIfNotExists(d, t) }
func (fakeDialect) ColumnType(t StorageType, key bool) string {
	if key {
		return "KEY"
	}
	return strings.ToUpper(t.String())
}

// TestRegisterPanics verifies invalid registrations panic.
func TestRegisterPanics(t *testing.T) {
	Register("fake-registered", fakeDialect{})

	tests := []struct {
		name string
		kind string
		d    Dialect
	}{
		{"empty kind", "", fakeDialect{}},
		{"nil dialect", "fake-nil", nil},
		{"duplicate", "fake-registered", fakeDialect{}},
	}
	for _, tc := range tests {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: Register did not panic", tc.name)
				}
			}()
			Register(tc.kind, tc.d)
		}()
	}

	if _, err := Lookup("fake-registered"); err != nil {
		t.Fatalf("Lookup(fake-registered) err=%v", err)
	}
	found := false
	for _, k := range Kinds() {
		found = found || k == "fake-registered"
	}
	if !found {
		t.Fatalf("Kinds()=%v missing fake-registered", Kinds())
	}
}

// TestOpenUnknownKind verifies Open rejects empty and unknown kinds.
func TestOpenUnknownKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := Open(ctx, Config{}, DurabilityFull); err == nil {
		t.Fatalf("Open(empty kind) err=nil")
	}
	_, err := Open(ctx, Config{Kind: "nope"}, DurabilityFull)
	if err == nil || !strings.Contains(err.Error(), "unsupported kind=nope") {
		t.Fatalf("Open(nope) err=%v", err)
	}
}

// TestStorageTypeOf verifies the central field type mapping.
func TestStorageTypeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want StorageType
	}{
		{"DECIMAL", TypeReal},
		{" decimal ", TypeReal},
		{"CHAR", TypeText},
		{"DATE", TypeText},
		{"TIME", TypeText},
		{"UNKNOWN", TypeText},
		{"", TypeText},
	}
	for _, tc := range tests {
		if got := StorageTypeOf(tc.in); got != tc.want {
			t.Fatalf("StorageTypeOf(%q)=%s, want %s", tc.in, got, tc.want)
		}
	}
}

// TestTableBody verifies column and constraint rendering.
func TestTableBody(t *testing.T) {
	t.Parallel()

	got, err := CreateIfNotExists(fakeDialect{}, TableDef{
		Name:       "ref",
		Columns:    []ColumnDef{{Name: "ID"}, {Name: "AMT", Type: TypeReal}},
		PrimaryKey: "ID",
	})
	if err != nil {
		t.Fatalf("CreateIfNotExists err=%v", err)
	}
	want := "CREATE TABLE IF NOT EXISTS `ref` (\n  `ID` KEY,\n  `AMT` REAL,\n  PRIMARY KEY (`ID`)\n);"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}

// TestTableDefValidate verifies structural checks.
func TestTableDefValidate(t *testing.T) {
	t.Parallel()

	cols := []ColumnDef{{Name: "ID"}, {Name: "X"}}
	tests := []struct {
		name string
		def  TableDef
		ok   bool
	}{
		{"ok pk", TableDef{Name: "t", Columns: cols, PrimaryKey: "ID"}, true},
		{"ok fk", TableDef{Name: "t", Columns: cols, ForeignKey: &ForeignKey{Column: "ID", RefTable: "r", RefColumn: "ID"}}, true},
		{"no name", TableDef{Columns: cols}, false},
		{"no columns", TableDef{Name: "t"}, false},
		{"dup column", TableDef{Name: "t", Columns: []ColumnDef{{Name: "A"}, {Name: "A"}}}, false},
		{"pk missing", TableDef{Name: "t", Columns: cols, PrimaryKey: "NOPE"}, false},
		{"fk missing", TableDef{Name: "t", Columns: cols, ForeignKey: &ForeignKey{Column: "NOPE", RefTable: "r", RefColumn: "ID"}}, false},
		{"fk no target", TableDef{Name: "t", Columns: cols, ForeignKey: &ForeignKey{Column: "ID"}}, false},
	}
	for _, tc := range tests {
		err := tc.def.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate()=%v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

// TestInsertSQL verifies placeholder numbering and quoting.
func TestInsertSQL(t *testing.T) {
	t.Parallel()

	got, err := InsertSQL(fakeDialect{}, InsertDef{Table: "t", Columns: []string{"A", "B", "C"}})
	if err != nil {
		t.Fatalf("InsertSQL err=%v", err)
	}
	if got != "INSERT INTO `t` (`A`, `B`, `C`) VALUES (:1, :2, :3)" {
		t.Fatalf("InsertSQL=%s", got)
	}
	if _, err := InsertSQL(fakeDialect{}, InsertDef{Table: "t"}); err == nil {
		t.Fatalf("InsertSQL(no columns) err=nil")
	}
}

// TestClassify verifies classification survives wrapping.
func TestClassify(t *testing.T) {
	t.Parallel()

	base := errors.New("engine said no")
	fk := fmt.Errorf("batch: %w", &Error{Class: ClassForeignKey, Op: "insert", Err: base})
	busy := &Error{Class: ClassTransient, Op: "begin", Err: base}

	if !IsForeignKey(fk) || IsTransient(fk) {
		t.Fatalf("fk classification wrong: %s", Classify(fk))
	}
	if !IsTransient(busy) || IsForeignKey(busy) {
		t.Fatalf("busy classification wrong: %s", Classify(busy))
	}
	if Classify(base) != ClassFatal || IsForeignKey(nil) || IsTransient(nil) {
		t.Fatalf("plain errors must be fatal")
	}
	if EngineMessage(fk) != "engine said no" {
		t.Fatalf("EngineMessage=%q", EngineMessage(fk))
	}
	if !errors.Is(fk, base) {
		t.Fatalf("errors.Is(fk, base)=false")
	}
	if !(TransientClassifier{}).IsTransient(busy) {
		t.Fatalf("TransientClassifier rejected busy")
	}
}
