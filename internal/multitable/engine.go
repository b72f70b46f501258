// Package multitable loads the reference file and then every other file in
// parallel, one connection per task.
package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"opiload/internal/loader"
	"opiload/internal/storage"
)

// OpenFunc opens a store connection. storage.Open is the production value.
type OpenFunc func(ctx context.Context, cfg storage.Config, dur storage.Durability) (*storage.Conn, error)

// Failure is a non-reference file that could not be loaded.
type Failure struct {
	FileID string
	Err    error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.FileID, f.Err) }

// Session is the outcome of one Run.
type Session struct {
	RunID     uuid.UUID
	Reference loader.Result
	Results   []loader.Result
	Errors    []loader.ErrorDetail
	Failures  []Failure
	Duration  time.Duration
}

// Processed returns the number of rows attempted across all files.
func (s *Session) Processed() int {
	n := s.Reference.Processed
	for _, r := range s.Results {
		n += r.Processed
	}
	return n
}

// Failed reports whether any file failed.
func (s *Session) Failed() bool { return len(s.Failures) > 0 }

// Engine coordinates a parallel load.
type Engine struct {
	Config   Config
	Provider loader.Provider
	Logger   loader.Logger

	// Errors collects rejected rows from every task. Nil means a fresh
	// aggregator per Run.
	Errors *loader.Aggregator

	// Open is a seam for tests; nil uses storage.Open.
	Open OpenFunc
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.Logger.Printf
}

func (e *Engine) open() OpenFunc {
	if e.Open != nil {
		return e.Open
	}
	return storage.Open
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Run loads ref, then fans files out to a bounded worker pool.
//
// Loading ref is a hard barrier: no task starts before it returns, and any
// reference failure aborts the run. A task failure is logged and recorded in
// Session.Failures without stopping other tasks. A corrupted error
// aggregator or a cancelled ctx aborts the run; the partial Session is
// still returned.
func (e *Engine) Run(ctx context.Context, ref loader.File, files []loader.File) (*Session, error) {
	if e.Provider == nil {
		return nil, fmt.Errorf("engine: Provider is required")
	}
	cfg := e.Config.withDefaults()
	logf := e.logger()
	open := e.open()
	start := time.Now()

	s := &Session{RunID: cfg.RunID}
	defer func() { s.Duration = time.Since(start) }()

	opts := cfg.Loader
	if opts.Logger == nil {
		opts.Logger = e.Logger
	}

	pending := dedupe(ref, files)
	logf("stage=start run_id=%s reference=%s files=%d workers=%d store=%s",
		s.RunID, ref.ID, len(pending), cfg.Workers, cfg.Store.Kind)

	refStart := time.Now()
	refConn, err := open(ctx, cfg.Store, storage.DurabilityFull)
	if err != nil {
		return s, fmt.Errorf("open reference connection: %w", err)
	}
	defer refConn.Close()

	rl := loader.New(refConn, e.Provider, opts)
	s.Reference, err = rl.Init(ctx, ref)
	if err != nil {
		logf("stage=reference file=%s status=failed err=%v", ref.ID, err)
		return s, fmt.Errorf("reference %s: %w", ref.ID, err)
	}
	binding, _ := rl.Binding()
	logf("stage=reference file=%s rows=%d fk_errors=%d duration=%s",
		ref.ID, s.Reference.Processed, len(s.Reference.Errors), durMS(refStart))

	agg := e.Errors
	if agg == nil {
		agg = loader.NewAggregator()
	}
	if err := agg.AddMany(s.Reference.Errors); err != nil {
		return s, err
	}

	var (
		mu       sync.Mutex
		results  = make([]*loader.Result, len(pending))
		failures []Failure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, f := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			taskStart := time.Now()
			res, err := e.runTask(gctx, open, cfg.Store, opts, binding, f)
			if err != nil {
				if isRunFatal(err) {
					return err
				}
				logf("stage=worker file=%s status=failed duration=%s err=%v", f.ID, durMS(taskStart), err)
				mu.Lock()
				failures = append(failures, Failure{FileID: f.ID, Err: err})
				mu.Unlock()
				return nil
			}
			if err := agg.AddMany(res.Errors); err != nil {
				return fmt.Errorf("collect errors for %s: %w", f.ID, err)
			}
			logf("stage=worker file=%s status=ok rows=%d fk_errors=%d duration=%s",
				f.ID, res.Processed, len(res.Errors), durMS(taskStart))

			mu.Lock()
			results[i] = &res
			mu.Unlock()
			return nil
		})
	}
	werr := g.Wait()

	for _, r := range results {
		if r != nil {
			s.Results = append(s.Results, *r)
		}
	}
	s.Failures = failures

	if werr != nil {
		return s, werr
	}
	if err := ctx.Err(); err != nil {
		return s, err
	}

	s.Errors, err = agg.Snapshot()
	if err != nil {
		return s, err
	}
	logf("stage=done run_id=%s files=%d failed=%d rows=%d fk_errors=%d duration=%s",
		s.RunID, len(s.Results)+1, len(s.Failures), s.Processed(), len(s.Errors), durMS(start))
	return s, nil
}

func (e *Engine) runTask(ctx context.Context, open OpenFunc, store storage.Config, opts loader.Options, b loader.Binding, f loader.File) (loader.Result, error) {
	wc, err := newWorkerContext(ctx, open, store, b)
	if err != nil {
		return loader.Result{FileID: f.ID, Table: f.TableName()}, err
	}
	defer wc.Close()
	return wc.Process(ctx, e.Provider, opts, f)
}

// isRunFatal reports errors that must stop every task, not just one file.
func isRunFatal(err error) bool {
	return errors.Is(err, loader.ErrAggregatorCorrupted) ||
		errors.Is(err, loader.ErrNotInitialized) ||
		errors.Is(err, loader.ErrAlreadyInitialized)
}

// dedupe drops ref and repeated ids from files, keeping first-seen order.
func dedupe(ref loader.File, files []loader.File) []loader.File {
	seen := map[string]bool{strings.ToUpper(ref.ID): true}
	out := make([]loader.File, 0, len(files))
	for _, f := range files {
		k := strings.ToUpper(f.ID)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}
