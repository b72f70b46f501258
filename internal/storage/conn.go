package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Conn is one exclusive connection to the target store.
//
// A Conn is not safe for concurrent use. Each parallel worker opens its own.
type Conn struct {
	db         *sql.DB
	conn       *sql.Conn
	dialect    Dialect
	kind       string
	durability Durability
}

// Kind returns the dialect name the connection was opened with.
func (c *Conn) Kind() string { return c.kind }

// Dialect returns the connection's dialect.
func (c *Conn) Dialect() Dialect { return c.dialect }

// Durability returns the durability the session was configured with.
func (c *Conn) Durability() Durability { return c.durability }

// Close releases the pinned connection and its pool.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
		c.db = nil
	}
	return errors.Join(errs...)
}

// Exec runs a statement outside any batch.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
		return c.wrap("exec", err)
	}
	return nil
}

// CreateTable creates t if it does not exist.
func (c *Conn) CreateTable(ctx context.Context, t TableDef) error {
	ddl, err := c.dialect.CreateTableSQL(t)
	if err != nil {
		return err
	}
	if _, err := c.conn.ExecContext(ctx, ddl); err != nil {
		return c.wrap("create table "+t.Name, err)
	}
	return nil
}

// QueryRow runs a single-row query on the pinned connection.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// CountRows returns SELECT COUNT(*) for table.
func (c *Conn) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.dialect.QuoteIdent(table))
	if err := c.conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, c.wrap("count "+table, err)
	}
	return n, nil
}

// TableExists reports whether table is in the engine's catalog.
func (c *Conn) TableExists(ctx context.Context, table string) (bool, error) {
	if c.conn == nil {
		return false, sql.ErrConnDone
	}
	var n int64
	if err := c.conn.QueryRowContext(ctx, c.dialect.TableExistsSQL(), table).Scan(&n); err != nil {
		return false, c.wrap("table exists "+table, err)
	}
	return n > 0, nil
}

// BeginBatch opens a transaction and prepares ins inside it.
//
// The returned Batch must end with Commit or Rollback.
func (c *Conn) BeginBatch(ctx context.Context, ins InsertDef) (*Batch, error) {
	q, err := InsertSQL(c.dialect, ins)
	if err != nil {
		return nil, err
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.wrap("begin", err)
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return nil, c.wrap("prepare insert into "+ins.Table, err)
	}
	return &Batch{c: c, tx: tx, stmt: stmt, table: ins.Table, savepoints: c.dialect.RowSavepoints()}, nil
}

func (c *Conn) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Class: c.dialect.Classify(err), Op: op, Err: err}
}

// Batch is one transaction with one prepared insert.
type Batch struct {
	c          *Conn
	tx         *sql.Tx
	stmt       *sql.Stmt
	table      string
	savepoints bool
	done       bool
}

const rowSavepoint = "opiload_row"

// Insert executes the prepared statement once. A returned error is always a
// *Error; for ClassForeignKey the transaction remains usable.
func (b *Batch) Insert(ctx context.Context, args ...any) error {
	if b.done {
		return &Error{Class: ClassFatal, Op: "insert into " + b.table, Err: sql.ErrTxDone}
	}
	if !b.savepoints {
		if _, err := b.stmt.ExecContext(ctx, args...); err != nil {
			return b.c.wrap("insert into "+b.table, err)
		}
		return nil
	}

	if _, err := b.tx.ExecContext(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
		return b.c.wrap("savepoint", err)
	}
	if _, err := b.stmt.ExecContext(ctx, args...); err != nil {
		werr := b.c.wrap("insert into "+b.table, err)
		if _, rerr := b.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+rowSavepoint); rerr != nil {
			return &Error{Class: ClassFatal, Op: "rollback to savepoint", Err: errors.Join(err, rerr)}
		}
		if _, rerr := b.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+rowSavepoint); rerr != nil {
			return &Error{Class: ClassFatal, Op: "release savepoint", Err: errors.Join(err, rerr)}
		}
		return werr
	}
	if _, err := b.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+rowSavepoint); err != nil {
		return b.c.wrap("release savepoint", err)
	}
	return nil
}

// Commit commits the batch.
func (b *Batch) Commit() error {
	if b.done {
		return &Error{Class: ClassFatal, Op: "commit", Err: sql.ErrTxDone}
	}
	b.done = true
	_ = b.stmt.Close()
	if err := b.tx.Commit(); err != nil {
		return b.c.wrap("commit", err)
	}
	return nil
}

// Rollback aborts the batch. It is a no-op after Commit or Rollback.
func (b *Batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	_ = b.stmt.Close()
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return b.c.wrap("rollback", err)
	}
	return nil
}
