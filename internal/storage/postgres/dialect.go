// Package postgres registers the Postgres backend ("postgres") using pgx's
// database/sql driver.
//
// Postgres aborts the whole transaction when any statement fails, so every
// insert runs under a savepoint; a foreign-key violation rolls back to it and
// the batch continues. Durability maps to synchronous_commit.
package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"opiload/internal/storage"
)

func init() {
	storage.Register("postgres", Dialect{})
}

// SQLSTATE codes used by Classify.
const (
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Dialect implements storage.Dialect for Postgres.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) DriverName() string { return "pgx" }

func (Dialect) DSN(cfg storage.Config) (string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return "", fmt.Errorf("postgres: dsn is empty")
	}
	return dsn, nil
}

// Session sets synchronous_commit and, when configured, a lock timeout that
// mirrors the sqlite busy timeout.
func (Dialect) Session(cfg storage.Config, d storage.Durability) []string {
	out := make([]string, 0, 2)
	if d == storage.DurabilityRelaxed {
		out = append(out, "SET synchronous_commit = off")
	} else {
		out = append(out, "SET synchronous_commit = on")
	}
	if cfg.BusyTimeout > 0 {
		out = append(out, fmt.Sprintf("SET lock_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	return out
}

func (Dialect) QuoteIdent(name string) string { return storage.QuoteWith(name, `"`, `"`) }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(t storage.StorageType, _ bool) string {
	if t == storage.TypeReal {
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}

func (d Dialect) CreateTableSQL(t storage.TableDef) (string, error) {
	return storage.CreateIfNotExists(d, t)
}

// Classify maps SQLSTATE codes:
//   - 23503                -> ClassForeignKey
//   - 40001, 40P01, 55P03  -> ClassTransient
//   - anything else        -> ClassFatal
func (Dialect) Classify(err error) storage.Class {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return storage.ClassFatal
	}
	switch pgErr.Code {
	case codeForeignKeyViolation:
		return storage.ClassForeignKey
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return storage.ClassTransient
	}
	return storage.ClassFatal
}

func (Dialect) RowSavepoints() bool { return true }

func (Dialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}
