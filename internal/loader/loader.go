// Package loader loads fixed-width OPI files into a relational store using
// the reference-table pattern: one reference file owns the primary-key
// domain and every other file is foreign-key constrained against it.
//
// A Loader is bound to one storage.Conn and is not safe for concurrent use.
// Parallel runs give each worker its own Loader (see internal/multitable).
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"opiload/internal/metrics"
	"opiload/internal/parser/fixedwidth"
	"opiload/internal/retry"
	"opiload/internal/schema"
	"opiload/internal/storage"
)

var (
	// ErrNotInitialized is returned by operations that need a reference
	// binding before Init or Bind has run.
	ErrNotInitialized = errors.New("loader: not initialized")

	// ErrAlreadyInitialized is returned by a second Init or Bind.
	ErrAlreadyInitialized = errors.New("loader: already initialized")
)

// DefaultBatchSize is the number of records committed per transaction.
const DefaultBatchSize = 250

// Logger is the logging surface the loader needs. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Provider opens the descriptor and data streams of a file by id.
type Provider interface {
	Descriptor(ctx context.Context, id string) (io.ReadCloser, error)
	Data(ctx context.Context, id string) (io.ReadCloser, error)
}

// File identifies one source file and the table it loads into.
type File struct {
	ID    string
	Name  string
	Table string // defaults to the lower-cased ID
}

// TableName returns the target table for f.
func (f File) TableName() string {
	if f.Table != "" {
		return f.Table
	}
	return strings.ToLower(f.ID)
}

// Binding names the reference file, its table, and its key field. It is set
// exactly once per Loader and never changes afterwards.
type Binding struct {
	File  File
	Table string
	Field string
}

// Options tunes a Loader. The zero value is usable.
type Options struct {
	// BatchSize defaults to DefaultBatchSize when <= 0.
	BatchSize int

	// KeyCandidates overrides schema.DefaultKeyCandidates.
	KeyCandidates []string

	// Charset decodes each sliced field; nil means passthrough.
	Charset encoding.Encoding

	// Progress is called after every committed batch with its size.
	Progress func(fileID string, n int)

	// Retry decides how transient storage errors are retried. Nil uses
	// retry.NewExponentialBackoff(5).
	Retry retry.BackoffStrategy

	// Logger defaults to a discard logger.
	Logger Logger

	// Verbose adds one log line per committed batch.
	Verbose bool
}

// Result is the outcome of processing one file.
type Result struct {
	FileID    string
	Table     string
	Processed int
	Errors    []ErrorDetail
	Skipped   bool
	Duration  time.Duration
}

// ErrorDetail records one row rejected by a foreign-key constraint.
type ErrorDetail struct {
	FileID      string
	FileName    string
	Table       string
	Line        int
	Values      []fixedwidth.Value
	Message     string
	EngineError string
}

func newErrorDetail(f File, table string, row *fixedwidth.Row, err error) ErrorDetail {
	vals := append([]fixedwidth.Value(nil), row.Values...)
	return ErrorDetail{
		FileID:   f.ID,
		FileName: f.Name,
		Table:    table,
		Line:     row.Line,
		Values:   vals,
		Message: fmt.Sprintf("Foreign key violation inserting into %s\n  File: %s (%s)\n  Line: %d\n  Values: %s",
			table, f.ID, f.Name, row.Line, fixedwidth.FormatValues(vals)),
		EngineError: storage.EngineMessage(err),
	}
}

// Loader creates tables and inserts records for one connection.
type Loader struct {
	conn     *storage.Conn
	provider Provider
	opts     Options
	log      Logger
	retry    *retry.Executor

	binding   *Binding
	schemas   map[string]*schema.Schema
	processed map[string]bool
}

// New returns an uninitialized Loader.
func New(conn *storage.Conn, provider Provider, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if len(opts.KeyCandidates) == 0 {
		opts.KeyCandidates = schema.DefaultKeyCandidates
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewExponentialBackoff(5)
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.New(io.Discard, "", 0)
	}
	l := &Loader{
		conn:      conn,
		provider:  provider,
		opts:      opts,
		log:       lg,
		schemas:   make(map[string]*schema.Schema),
		processed: make(map[string]bool),
	}
	l.retry = retry.NewExecutor(storage.TransientClassifier{}, opts.Retry).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			metrics.IncCounter(metrics.BatchRetriesTotal, 1, nil)
			l.log.Printf("stage=batch status=retry attempt=%d delay=%s err=%v", attempt+1, delay, err)
		})
	return l
}

// Binding returns the reference binding, or false before initialization.
func (l *Loader) Binding() (Binding, bool) {
	if l.binding == nil {
		return Binding{}, false
	}
	return *l.binding, true
}

// Initialized reports whether a binding is set.
func (l *Loader) Initialized() bool { return l.binding != nil }

// Processed reports whether this Loader already processed id.
func (l *Loader) Processed(id string) bool { return l.processed[id] }

// Init resolves the reference key, binds the Loader to ref, and loads ref.
// A failure here is fatal to a run: no other file can be loaded without the
// reference table.
func (l *Loader) Init(ctx context.Context, ref File) (Result, error) {
	if l.binding != nil {
		return Result{}, ErrAlreadyInitialized
	}
	s, err := l.schemaFor(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	key, err := schema.Resolve(s, l.opts.KeyCandidates)
	if err != nil {
		return Result{}, fmt.Errorf("reference %s: %w", ref.ID, err)
	}
	l.binding = &Binding{File: ref, Table: ref.TableName(), Field: key}
	l.log.Printf("stage=reference file=%s table=%s key=%s", ref.ID, l.binding.Table, key)

	return l.ProcessFile(ctx, ref)
}

// Bind adopts a binding established by another Loader, without loading the
// reference file again.
func (l *Loader) Bind(b Binding) error {
	if l.binding != nil {
		return ErrAlreadyInitialized
	}
	if b.File.ID == "" || b.Table == "" || b.Field == "" {
		return fmt.Errorf("loader: incomplete binding %+v", b)
	}
	l.binding = &b
	return nil
}

func (l *Loader) isReference(f File) bool {
	return l.binding != nil && strings.EqualFold(f.ID, l.binding.File.ID)
}

// schemaFor parses the descriptor of f once and caches it.
func (l *Loader) schemaFor(ctx context.Context, f File) (*schema.Schema, error) {
	if s, ok := l.schemas[f.ID]; ok {
		return s, nil
	}
	rc, err := l.provider.Descriptor(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", f.ID, err)
	}
	defer rc.Close()

	s, err := schema.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", f.ID, err)
	}
	l.schemas[f.ID] = s
	return s, nil
}

// tableDef builds the DDL model for f: one column per field, then either
// the primary key (reference) or a foreign key into the reference table.
func (l *Loader) tableDef(s *schema.Schema, f File) (storage.TableDef, error) {
	key, err := schema.Resolve(s, l.opts.KeyCandidates)
	if err != nil {
		return storage.TableDef{}, fmt.Errorf("%s: %w", f.ID, err)
	}

	fields := s.Fields()
	td := storage.TableDef{Name: f.TableName(), Columns: make([]storage.ColumnDef, 0, len(fields))}
	for _, fd := range fields {
		td.Columns = append(td.Columns, storage.ColumnDef{Name: fd.Code, Type: storage.StorageTypeOf(fd.Type)})
	}
	if l.isReference(f) {
		td.PrimaryKey = key
	} else {
		td.ForeignKey = &storage.ForeignKey{Column: key, RefTable: l.binding.Table, RefColumn: l.binding.Field}
	}
	return td, nil
}

// CreateTable creates the table for f if it does not exist. Busy/locked
// errors are retried like batches.
func (l *Loader) CreateTable(ctx context.Context, f File) error {
	if l.binding == nil {
		return ErrNotInitialized
	}
	s, err := l.schemaFor(ctx, f)
	if err != nil {
		return err
	}
	td, err := l.tableDef(s, f)
	if err != nil {
		return err
	}
	err = l.retry.Execute(ctx, func(ctx context.Context) error {
		return l.conn.CreateTable(ctx, td)
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", td.Name, err)
	}
	return nil
}

// ProcessFile creates the table for f and inserts its records. A file this
// Loader already processed returns Result{Skipped: true} and no error.
func (l *Loader) ProcessFile(ctx context.Context, f File) (Result, error) {
	if l.binding == nil {
		return Result{}, ErrNotInitialized
	}
	res := Result{FileID: f.ID, Table: f.TableName()}
	if l.processed[f.ID] {
		res.Skipped = true
		metrics.RecordFile("skipped", 0)
		return res, nil
	}

	start := time.Now()
	err := l.CreateTable(ctx, f)
	if err == nil {
		res.Processed, res.Errors, err = l.InsertRecords(ctx, f)
	}
	res.Duration = time.Since(start)
	if err != nil {
		metrics.RecordFile("failed", res.Duration)
		return res, err
	}

	l.processed[f.ID] = true
	metrics.RecordFile("ok", res.Duration)
	l.log.Printf("stage=file file=%s table=%s rows=%d fk_errors=%d duration=%s",
		f.ID, res.Table, res.Processed, len(res.Errors), res.Duration.Round(time.Millisecond))
	return res, nil
}
