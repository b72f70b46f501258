package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"opiload/internal/storage"
)

// TestClassify verifies SQLSTATE codes map to the storage classes.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want storage.Class
	}{
		{"fk", &pgconn.PgError{Code: "23503"}, storage.ClassForeignKey},
		{"wrapped fk", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), storage.ClassForeignKey},
		{"unique", &pgconn.PgError{Code: "23505"}, storage.ClassFatal},
		{"serialization", &pgconn.PgError{Code: "40001"}, storage.ClassTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, storage.ClassTransient},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, storage.ClassTransient},
		{"plain", errors.New("boom"), storage.ClassFatal},
	}
	for _, tc := range tests {
		if got := (Dialect{}).Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify()=%s, want %s", tc.name, got, tc.want)
		}
	}
}

// TestSession verifies durability and lock timeout statements.
func TestSession(t *testing.T) {
	t.Parallel()

	full := Dialect{}.Session(storage.Config{}, storage.DurabilityFull)
	if len(full) != 1 || full[0] != "SET synchronous_commit = on" {
		t.Fatalf("Session(full)=%v", full)
	}
	relaxed := Dialect{}.Session(storage.Config{BusyTimeout: 2 * time.Second}, storage.DurabilityRelaxed)
	if len(relaxed) != 2 || relaxed[0] != "SET synchronous_commit = off" || relaxed[1] != "SET lock_timeout = 2000" {
		t.Fatalf("Session(relaxed)=%v", relaxed)
	}
}

// TestDDLAndInsert verifies quoting, types and placeholders.
func TestDDLAndInsert(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	ddl, err := d.CreateTableSQL(storage.TableDef{
		Name:       "offender_profile",
		Columns:    []storage.ColumnDef{{Name: "CMDORNUM"}, {Name: "AMT", Type: storage.TypeReal}},
		PrimaryKey: "CMDORNUM",
	})
	if err != nil {
		t.Fatalf("CreateTableSQL err=%v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "offender_profile"`,
		`"AMT" DOUBLE PRECISION`,
		`PRIMARY KEY ("CMDORNUM")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL missing %q:\n%s", want, ddl)
		}
	}

	ins, err := storage.InsertSQL(d, storage.InsertDef{Table: "t", Columns: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("InsertSQL err=%v", err)
	}
	if ins != `INSERT INTO "t" ("A", "B") VALUES ($1, $2)` {
		t.Fatalf("InsertSQL=%s", ins)
	}
	if !d.RowSavepoints() {
		t.Fatalf("RowSavepoints()=false")
	}
}
