package multitable

import (
	"context"
	"fmt"

	"opiload/internal/loader"
	"opiload/internal/storage"
)

// WorkerContext is what one task owns: its own connection and a copy of the
// reference binding. It is built once per task and never shared.
type WorkerContext struct {
	Conn    *storage.Conn
	Binding loader.Binding
}

func newWorkerContext(ctx context.Context, open OpenFunc, cfg storage.Config, b loader.Binding) (*WorkerContext, error) {
	conn, err := open(ctx, cfg, storage.DurabilityRelaxed)
	if err != nil {
		return nil, fmt.Errorf("open worker connection: %w", err)
	}
	return &WorkerContext{Conn: conn, Binding: b}, nil
}

// Process loads f with a loader bound to the reference, never reloading it.
func (w *WorkerContext) Process(ctx context.Context, p loader.Provider, opts loader.Options, f loader.File) (loader.Result, error) {
	l := loader.New(w.Conn, p, opts)
	if err := l.Bind(w.Binding); err != nil {
		return loader.Result{FileID: f.ID, Table: f.TableName()}, err
	}
	return l.ProcessFile(ctx, f)
}

// Close releases the task's connection.
func (w *WorkerContext) Close() error { return w.Conn.Close() }
