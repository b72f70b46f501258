package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"opiload/internal/catalog"
	"opiload/internal/config"
	"opiload/internal/datasource"
	"opiload/internal/loader"
	"opiload/internal/metrics/datadog"
	"opiload/internal/multitable"
)

type loadFlags struct {
	output         string
	dsn            string
	store          string
	reference      string
	dataDir        string
	encoding       string
	metricsBackend string
	metricsTags    string
	workers        int
	batchSize      int
	keepData       bool
	showErrors     bool
	fetch          bool
}

func newLoadCmd(a *app) *cobra.Command {
	var fl loadFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Extract archives and load every available file",
		Long: `load extracts any archive that is not yet extracted, loads the reference
file, then loads every other available file in parallel. Rows rejected by
the foreign key are reported, not fatal.

Extracted data is removed after a successful run unless --keep-data is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLoad(cmd, fl)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&fl.output, "output", "o", "", "output database (SQLite path or DSN)")
	f.StringVar(&fl.dsn, "dsn", "", "store DSN; same as --output")
	f.StringVar(&fl.store, "store", "", "store kind: sqlite, postgres or mssql")
	f.StringVarP(&fl.reference, "reference", "r", "", "reference file id (default OFNT3AA1)")
	f.StringVar(&fl.dataDir, "data-dir", "", "directory holding archives and extracted data")
	f.StringVar(&fl.encoding, "encoding", "", "source charset: utf-8, latin1 or windows-1252")
	f.StringVar(&fl.metricsBackend, "metrics-backend", "", "metrics backend: none or datadog")
	f.StringVar(&fl.metricsTags, "metrics-tags", "", "extra metric tags, comma separated")
	f.IntVar(&fl.workers, "workers", 0, "parallel file loads (default number of CPUs)")
	f.IntVar(&fl.batchSize, "batch-size", 0, "rows per transaction")
	f.BoolVar(&fl.keepData, "keep-data", false, "keep extracted data after loading")
	f.BoolVar(&fl.showErrors, "show-errors", false, "print every rejected row")
	f.BoolVar(&fl.fetch, "fetch", false, "download missing or out-of-date archives first")
	return cmd
}

// apply overrides cfg with the flags the user set.
func (fl loadFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("output") && f.Changed("dsn") && fl.output != fl.dsn {
		return usagef("--output and --dsn disagree")
	}
	if f.Changed("output") {
		cfg.Store.DSN = fl.output
	}
	if f.Changed("dsn") {
		cfg.Store.DSN = fl.dsn
	}
	if f.Changed("store") {
		cfg.Store.Kind = fl.store
	}
	if f.Changed("reference") {
		cfg.Reference = fl.reference
	}
	if f.Changed("data-dir") {
		cfg.DataDir = fl.dataDir
	}
	if f.Changed("encoding") {
		cfg.Encoding = fl.encoding
	}
	if f.Changed("metrics-backend") {
		cfg.Metrics.Backend = fl.metricsBackend
	}
	if f.Changed("metrics-tags") {
		cfg.Metrics.Tags = append(cfg.Metrics.Tags, datadog.ParseTagsCSV(fl.metricsTags)...)
	}
	if f.Changed("workers") {
		cfg.Workers = fl.workers
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = fl.batchSize
	}
	if f.Changed("keep-data") {
		cfg.KeepData = fl.keepData
	}
	return nil
}

func (a *app) runLoad(cmd *cobra.Command, fl loadFlags) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	if err := fl.apply(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return usageError{fmt.Errorf("invalid configuration:\n%w", err)}
	}
	ref, ok := a.lookup(cfg.Reference)
	if !ok {
		return usagef("unknown reference file %q (see \"opiload files\")", cfg.Reference)
	}
	charset, err := cfg.Charset()
	if err != nil {
		return usageError{err}
	}

	ctx := cmd.Context()
	logger := a.logger()
	out := newPrinter(a.stdout)
	runID := uuid.New()

	cleanup, err := a.deps.initMetrics(ctx, cfg.Metrics, runID.String(), logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer cleanup()

	plan, err := a.prepareData(ctx, cfg, ref, logger, fl.fetch)
	out.plan(plan)
	if err != nil {
		return err
	}

	rows := newProgress(a.stderr, "rows", a.deps.progressEvery, formatCount)
	eng := &multitable.Engine{
		Config: multitable.Config{
			Store:   cfg.Storage(),
			Workers: cfg.Workers,
			RunID:   runID,
			Loader: loader.Options{
				BatchSize:     cfg.BatchSize,
				KeyCandidates: cfg.KeyCandidates,
				Charset:       charset,
				Progress:      rows.addRows,
				Retry:         cfg.Backoff(),
				Verbose:       a.verbose,
			},
		},
		Provider: datasource.Dir{Root: cfg.DataDir},
		Logger:   logger,
	}
	if err := eng.Config.Validate(); err != nil {
		return usageError{err}
	}

	files := make([]loader.File, 0, len(plan.load))
	for _, f := range plan.load {
		files = append(files, loaderFile(f))
	}

	stop := rows.start()
	s, runErr := eng.Run(ctx, loaderFile(ref), files)
	stop()

	if s != nil {
		out.session(s, plan.names(ref), fl.showErrors)
	}
	if runErr != nil {
		return fmt.Errorf("load: %w", runErr)
	}

	if s.Failed() {
		if !cfg.KeepData {
			logger.Printf("stage=cleanup status=skipped reason=failed_run")
		}
		return fmt.Errorf("%d of %d files failed to load", len(s.Failures), len(files)+1)
	}
	if !cfg.KeepData {
		if err := cleanData(cfg.DataDir, a.deps.catalog()); err != nil {
			logger.Printf("stage=cleanup status=failed err=%v", err)
		} else {
			out.cleaned()
		}
	}
	return nil
}

func loaderFile(f catalog.File) loader.File {
	return loader.File{ID: f.ID, Name: f.Name, Table: f.Table()}
}

// cleanData removes extracted data that can be re-extracted. Files with no
// archive on disk keep their only copy.
func cleanData(root string, files []catalog.File) error {
	dir := datasource.Dir{Root: root}
	var errs []error
	for _, f := range files {
		if _, err := os.Stat(dir.ZipPath(f.ID)); err != nil {
			continue
		}
		if err := datasource.Clean(root, f.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// skippedFile is a catalog file that will not be loaded this run.
type skippedFile struct {
	File   catalog.File
	Reason string
}

// dataPlan is what prepareData found and did on disk.
type dataPlan struct {
	ref          catalog.File
	load         []catalog.File
	skipped      []skippedFile
	unverifiable []catalog.File
	extracted    int
	bytes        int64
	extractTime  time.Duration
}

// names maps file ids to display names.
func (p dataPlan) names(ref catalog.File) map[string]string {
	m := map[string]string{ref.ID: ref.Name}
	for _, f := range p.load {
		m[f.ID] = f.Name
	}
	return m
}

// prepareData makes every catalog file it can loadable: stale or missing
// extractions are re-extracted from a verified archive, and with --fetch
// missing or mismatched archives are downloaded first. Files that stay
// unavailable are skipped, except the reference, which fails the run.
func (a *app) prepareData(ctx context.Context, cfg config.Config, ref catalog.File, logger *log.Logger, fetch bool) (dataPlan, error) {
	root := cfg.DataDir
	plan := dataPlan{ref: ref}
	ready := make(map[string]bool)
	reasons := make(map[string]string)
	var toExtract []catalog.File

	var fe fetcher
	if fetch {
		fe = a.deps.newFetcher(cfg, logger, nil)
	}
	dir := datasource.Dir{Root: root}

	for _, f := range a.deps.catalog() {
		st := datasource.Status(root, f)
		if st == datasource.StatusUnverifiable {
			plan.unverifiable = append(plan.unverifiable, f)
			ready[f.ID] = true
			continue
		}
		if st == datasource.StatusExtracted {
			err := datasource.VerifyExtracted(root, f)
			if err == nil {
				ready[f.ID] = true
				continue
			}
			logger.Printf("stage=prepare file=%s status=stale err=%v", f.ID, err)
			st = datasource.StatusArchived
		}
		if st == datasource.StatusArchived {
			if err := datasource.VerifySHA256(dir.ZipPath(f.ID), f.ZipSHA256); err != nil {
				logger.Printf("stage=prepare file=%s status=mismatch err=%v", f.ID, err)
				reasons[f.ID] = "archive out-of-date or incomplete"
				st = datasource.StatusMissing
			}
		} else {
			reasons[f.ID] = "archive not available"
		}
		if st == datasource.StatusMissing {
			if fe == nil {
				plan.skipped = append(plan.skipped, skippedFile{File: f, Reason: reasons[f.ID]})
				continue
			}
			if _, err := fe.Fetch(ctx, f, root); err != nil {
				if ctx.Err() != nil {
					return plan, ctx.Err()
				}
				reasons[f.ID] = fmt.Sprintf("download failed: %v", err)
				plan.skipped = append(plan.skipped, skippedFile{File: f, Reason: reasons[f.ID]})
				continue
			}
		}
		toExtract = append(toExtract, f)
	}

	if err := plan.extract(ctx, root, toExtract); err != nil {
		return plan, err
	}
	for _, f := range toExtract {
		ready[f.ID] = true
	}

	if !ready[ref.ID] {
		return plan, fmt.Errorf("reference file %s (%s) is not available in %s: %s; run \"opiload fetch %s\" or pass --fetch",
			ref.ID, ref.Name, root, reasons[ref.ID], ref.ID)
	}
	for _, f := range a.deps.catalog() {
		if f.ID != ref.ID && ready[f.ID] {
			plan.load = append(plan.load, f)
		}
	}
	return plan, nil
}

// extract unzips files concurrently. Any failure aborts the run.
func (p *dataPlan) extract(ctx context.Context, root string, files []catalog.File) error {
	if len(files) == 0 {
		return nil
	}
	start := time.Now()
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, f := range files {
		g.Go(func() error {
			n, err := datasource.ExtractFile(gctx, root, f.ID)
			total.Add(n)
			if err != nil {
				return fmt.Errorf("extract %s: %w", f.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.extracted = len(files)
	p.bytes = total.Load()
	p.extractTime = time.Since(start)
	return nil
}
