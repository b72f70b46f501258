// Package mssql registers the SQL Server backend ("mssql") using
// github.com/microsoft/go-mssqldb.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS, so DDL is wrapped in an
// OBJECT_ID guard. XACT_ABORT is forced off for the session: with it on, a
// constraint violation would doom the whole batch transaction.
package mssql

import (
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"opiload/internal/storage"
)

func init() {
	storage.Register("mssql", Dialect{})
}

// Error numbers used by Classify.
const (
	errConstraintConflict = 547 // FOREIGN KEY, CHECK and REFERENCE conflicts
	errDeadlockVictim     = 1205
	errLockTimeout        = 1222
)

// Dialect implements storage.Dialect for SQL Server.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) DriverName() string { return "sqlserver" }

func (Dialect) DSN(cfg storage.Config) (string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return "", fmt.Errorf("mssql: dsn is empty")
	}
	return dsn, nil
}

// Session disables XACT_ABORT and applies the busy timeout as LOCK_TIMEOUT.
// SQL Server durability is a database setting, so Durability has no effect.
func (Dialect) Session(cfg storage.Config, _ storage.Durability) []string {
	out := []string{"SET XACT_ABORT OFF"}
	if cfg.BusyTimeout > 0 {
		out = append(out, fmt.Sprintf("SET LOCK_TIMEOUT %d", cfg.BusyTimeout.Milliseconds()))
	}
	return out
}

func (Dialect) QuoteIdent(name string) string { return storage.QuoteWith(name, "[", "]") }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// ColumnType uses NVARCHAR(450) for key columns: NVARCHAR(MAX) cannot be
// indexed, and both sides of a foreign key must share a type.
func (Dialect) ColumnType(t storage.StorageType, key bool) string {
	if t == storage.TypeReal {
		return "FLOAT"
	}
	if key {
		return "NVARCHAR(450)"
	}
	return "NVARCHAR(MAX)"
}

// CreateTableSQL wraps the CREATE TABLE in an OBJECT_ID guard.
func (d Dialect) CreateTableSQL(t storage.TableDef) (string, error) {
	body, err := storage.TableBody(d, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s %s; END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		d.QuoteIdent(t.Name),
		body,
	), nil
}

// Classify maps SQL Server error numbers:
//   - 547 mentioning FOREIGN KEY  -> ClassForeignKey
//   - 1205, 1222                  -> ClassTransient
//   - anything else               -> ClassFatal
func (Dialect) Classify(err error) storage.Class {
	number, msg, ok := serverError(err)
	if !ok {
		return storage.ClassFatal
	}
	switch number {
	case errConstraintConflict:
		if strings.Contains(strings.ToUpper(msg), "FOREIGN KEY") {
			return storage.ClassForeignKey
		}
	case errDeadlockVictim, errLockTimeout:
		return storage.ClassTransient
	}
	return storage.ClassFatal
}

func serverError(err error) (int32, string, bool) {
	var e mssqldb.Error
	if errors.As(err, &e) {
		return e.Number, e.Message, true
	}
	var pe *mssqldb.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Number, pe.Message, true
	}
	return 0, "", false
}

// RowSavepoints is false: with XACT_ABORT OFF a constraint violation only
// terminates the failing statement.
func (Dialect) RowSavepoints() bool { return false }

func (Dialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM sys.tables WHERE name = @p1"
}
