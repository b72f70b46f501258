// Package sqlite registers the embedded SQLite backend ("sqlite") using the
// pure-Go modernc.org/sqlite driver.
//
// Every connection enables foreign keys and a busy timeout. Durability maps
// to PRAGMA synchronous: FULL for the reference connection, NORMAL for
// workers. Transactions start with BEGIN IMMEDIATE so lock contention shows
// up at begin time, where the whole batch can be retried cleanly.
package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"opiload/internal/storage"
)

// DefaultBusyTimeout is used when storage.Config.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

func init() {
	storage.Register("sqlite", Dialect{})
}

// Dialect implements storage.Dialect for SQLite.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) DriverName() string { return "sqlite" }

// DSN appends _txlock=immediate to the database path.
func (Dialect) DSN(cfg storage.Config) (string, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return "", fmt.Errorf("sqlite: database path is empty")
	}
	if strings.Contains(path, "_txlock=") {
		return path, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate", nil
}

// Session returns the per-connection pragmas. busy_timeout comes first so
// the journal_mode switch itself waits on a locked database.
func (Dialect) Session(cfg storage.Config, d storage.Durability) []string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	out := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if jm := strings.TrimSpace(cfg.JournalMode); jm != "" {
		out = append(out, "PRAGMA journal_mode = "+strings.ToUpper(jm))
	}
	if d == storage.DurabilityRelaxed {
		out = append(out, "PRAGMA synchronous = NORMAL")
	} else {
		out = append(out, "PRAGMA synchronous = FULL")
	}
	return out
}

func (Dialect) QuoteIdent(name string) string { return storage.QuoteWith(name, `"`, `"`) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t storage.StorageType, _ bool) string {
	if t == storage.TypeReal {
		return "REAL"
	}
	return "TEXT"
}

func (d Dialect) CreateTableSQL(t storage.TableDef) (string, error) {
	return storage.CreateIfNotExists(d, t)
}

// Classify maps SQLite result codes:
//   - SQLITE_CONSTRAINT_FOREIGNKEY (787)          -> ClassForeignKey
//   - SQLITE_BUSY / SQLITE_LOCKED and extensions  -> ClassTransient
//   - anything else                               -> ClassFatal
func (Dialect) Classify(err error) storage.Class {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return storage.ClassFatal
	}
	code := se.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return storage.ClassForeignKey
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return storage.ClassTransient
	}
	return storage.ClassFatal
}

// RowSavepoints is false: a failed INSERT only rolls back its own statement.
func (Dialect) RowSavepoints() bool { return false }

func (Dialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}
