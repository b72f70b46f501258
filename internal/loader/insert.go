package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"opiload/internal/metrics"
	"opiload/internal/parser/fixedwidth"
	"opiload/internal/storage"
)

// InsertRecords streams the data file of f into its table in batches of
// Options.BatchSize, one transaction and one prepared insert per batch.
//
// Rows rejected by the foreign key become ErrorDetails and still count as
// processed. Any other storage error rolls back the current batch and is
// returned; batches committed before it stay committed. A transient error
// re-runs the whole batch in a fresh transaction.
//
// Cancellation of ctx is honored between batches only.
func (l *Loader) InsertRecords(ctx context.Context, f File) (processed int, details []ErrorDetail, err error) {
	if l.binding == nil {
		return 0, nil, ErrNotInitialized
	}
	s, err := l.schemaFor(ctx, f)
	if err != nil {
		return 0, nil, err
	}
	rc, err := l.provider.Data(ctx, f.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("data %s: %w", f.ID, err)
	}
	defer rc.Close()

	ins := storage.InsertDef{Table: f.TableName(), Columns: s.Codes()}
	rd := fixedwidth.NewReader(rc, fixedwidth.NewDecoder(s, fixedwidth.WithCharset(l.opts.Charset)))

	batch := make([]*fixedwidth.Row, 0, l.opts.BatchSize)
	defer func() {
		for _, r := range batch {
			r.Drop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return processed, details, err
		}

		batch = batch[:0]
		var readErr error
		for len(batch) < l.opts.BatchSize {
			row, err := rd.Next()
			if err != nil {
				readErr = err
				break
			}
			batch = append(batch, row)
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return processed, details, fmt.Errorf("data %s: %w", f.ID, readErr)
		}

		if len(batch) > 0 {
			fk, err := l.commitBatch(ctx, f, ins, batch)
			if err != nil {
				return processed, details, fmt.Errorf("%s line %d: %w", f.ID, batch[0].Line, err)
			}
			processed += len(batch)
			details = append(details, fk...)

			metrics.IncCounter(metrics.BatchesTotal, 1, nil)
			metrics.IncCounter(metrics.RecordsTotal, float64(len(batch)), metrics.Labels{"kind": "processed"})
			metrics.IncCounter(metrics.RecordsTotal, float64(len(fk)), metrics.Labels{"kind": "fk_violation"})
			if l.opts.Verbose {
				l.log.Printf("stage=batch file=%s rows=%d fk_errors=%d last_line=%d", f.ID, len(batch), len(fk), batch[len(batch)-1].Line)
			}
			if l.opts.Progress != nil {
				l.opts.Progress(f.ID, len(batch))
			}

			for i, r := range batch {
				r.Free()
				batch[i] = nil
			}
			batch = batch[:0]
		}

		if readErr != nil {
			return processed, details, nil
		}
	}
}

// commitBatch runs one batch to commit or rollback. The batch itself is not
// cancellable; ctx only interrupts the wait between retries.
func (l *Loader) commitBatch(ctx context.Context, f File, ins storage.InsertDef, rows []*fixedwidth.Row) ([]ErrorDetail, error) {
	bctx := context.WithoutCancel(ctx)
	var details []ErrorDetail

	err := l.retry.Execute(ctx, func(context.Context) error {
		details = details[:0]

		b, err := l.conn.BeginBatch(bctx, ins)
		if err != nil {
			return err
		}
		args := make([]any, 0, len(ins.Columns))
		for _, row := range rows {
			args = row.Args(args)
			err := b.Insert(bctx, args...)
			if err == nil {
				continue
			}
			if storage.IsForeignKey(err) {
				details = append(details, newErrorDetail(f, ins.Table, row, err))
				continue
			}
			_ = b.Rollback()
			return fmt.Errorf("insert line %d: %w", row.Line, err)
		}
		if err := b.Commit(); err != nil {
			_ = b.Rollback()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}
