// Package storage is the boundary between the loader and a SQL engine.
//
// A backend is a Dialect registered under a kind ("sqlite", "postgres",
// "mssql"). Open pins one exclusive connection per Conn: callers that load in
// parallel open one Conn per worker and never share it.
//
// Engine-specific error codes stay inside the dialect packages; everything
// above this package only sees a Class (see errors.go).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Durability selects how hard a connection pushes commits to disk.
type Durability int

const (
	// DurabilityFull keeps the engine's strongest commit guarantees. Used by
	// the reference connection.
	DurabilityFull Durability = iota
	// DurabilityRelaxed trades some crash durability for throughput. Used by
	// worker connections.
	DurabilityRelaxed
)

func (d Durability) String() string {
	if d == DurabilityRelaxed {
		return "relaxed"
	}
	return "full"
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered dialect name.
	Kind string `yaml:"kind" json:"kind"`
	// DSN is the data source. For sqlite it is the database file path.
	DSN string `yaml:"dsn" json:"dsn"`
	// BusyTimeout is how long the engine itself waits on a locked database
	// before reporting busy. Zero uses the dialect default.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	// JournalMode is passed to sqlite as PRAGMA journal_mode when set.
	JournalMode string `yaml:"journal_mode" json:"journal_mode"`
}

// Dialect adapts one SQL engine.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// DSN turns cfg into the driver data source name.
	DSN(cfg Config) (string, error)
	// Session returns statements executed once on each new connection.
	Session(cfg Config, d Durability) []string
	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string
	// Placeholder returns the n-th (1-based) positional parameter marker.
	Placeholder(n int) string
	// ColumnType renders a storage type. key is true for primary and foreign
	// key columns.
	ColumnType(t StorageType, key bool) string
	// CreateTableSQL renders an idempotent CREATE TABLE.
	CreateTableSQL(t TableDef) (string, error)
	// Classify maps an engine error to a Class.
	Classify(err error) Class
	// RowSavepoints reports whether a failed statement poisons the enclosing
	// transaction, so each insert must run under its own savepoint.
	RowSavepoints() bool
	// TableExistsSQL counts catalog rows naming the table bound to the
	// single parameter.
	TableExistsSQL() string
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Dialect{}
)

// Register makes a dialect available to Open under kind.
//
// Register panics if kind is empty, d is nil, or kind is already registered.
// Backends call it from init.
func Register(kind string, d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if d == nil {
		panic("storage: Register called with nil dialect")
	}
	if _, exists := dialects[kind]; exists {
		panic(fmt.Sprintf("storage: dialect already registered for kind=%q", kind))
	}
	dialects[kind] = d
}

// Lookup returns the dialect registered under kind.
func Lookup(kind string) (Dialect, error) {
	if kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}
	dialectsMu.RLock()
	d := dialects[kind]
	dialectsMu.RUnlock()
	if d == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return d, nil
}

// Kinds lists registered dialect names, sorted.
func Kinds() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	out := make([]string, 0, len(dialects))
	for k := range dialects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects to the store described by cfg and pins one connection.
//
// Errors:
//   - unknown or empty cfg.Kind
//   - an unusable DSN (for sqlite: a path that cannot be opened)
//   - a failing session statement
func Open(ctx context.Context, cfg Config, dur Durability) (*Conn, error) {
	d, err := Lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	dsn, err := d.DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	// One physical connection: session settings (pragmas, durability) are
	// per connection and must not be lost to pool churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Kind, err)
	}

	c := &Conn{db: db, conn: conn, dialect: d, kind: cfg.Kind, durability: dur}
	for _, stmt := range d.Session(cfg, dur) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = c.Close()
			return nil, c.wrap("session "+stmt, err)
		}
	}
	return c, nil
}
