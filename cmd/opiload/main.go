// Command opiload loads NC DAC Offender Public Information files into a
// SQL database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opiload/internal/catalog"
	"opiload/internal/config"
	"opiload/internal/datasource"

	// register every store dialect; config picks one.
	_ "opiload/internal/storage/mssql"
	_ "opiload/internal/storage/postgres"
	_ "opiload/internal/storage/sqlite"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

// usageError marks bad flags, arguments or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, a ...any) error { return usageError{fmt.Errorf(format, a...)} }

// fetcher is the slice of *datasource.Fetcher the CLI uses.
type fetcher interface {
	Fetch(ctx context.Context, f catalog.File, root string) (int64, error)
}

// appDeps are the side-effecting seams runMain uses; tests replace them.
type appDeps struct {
	loadConfig    func(path, envFile string) (config.Config, error)
	initMetrics   func(ctx context.Context, mc config.MetricsConfig, runID string, logger *log.Logger) (func(), error)
	newFetcher    func(cfg config.Config, logger *log.Logger, progress func(id string, n int64)) fetcher
	catalog       func() []catalog.File
	progressEvery time.Duration
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		newFetcher: func(cfg config.Config, logger *log.Logger, progress func(string, int64)) fetcher {
			return &datasource.Fetcher{Retry: cfg.Backoff(), Logger: logger, Progress: progress}
		},
		catalog:       catalog.All,
		progressEvery: 2 * time.Second,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// app is the state shared by the commands of one invocation.
type app struct {
	stdout, stderr io.Writer
	deps           appDeps

	verbose    bool
	configPath string
	envFile    string
}

func (a *app) logger() *log.Logger {
	flags := log.LstdFlags
	if a.verbose {
		flags |= log.Lmicroseconds
	}
	return log.New(a.stderr, "", flags)
}

// config loads the layered configuration. Flags are applied by the caller.
func (a *app) config() (config.Config, error) {
	cfg, err := a.deps.loadConfig(a.configPath, a.envFile)
	if err != nil {
		return config.Config{}, usageError{fmt.Errorf("load config: %w", err)}
	}
	return cfg, nil
}

func (a *app) lookup(id string) (catalog.File, bool) {
	id = strings.TrimSpace(id)
	for _, f := range a.deps.catalog() {
		if strings.EqualFold(f.ID, id) {
			return f, true
		}
	}
	return catalog.File{}, false
}

// runMain executes the CLI and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := &app{stdout: stdout, stderr: stderr, deps: deps}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case strings.HasPrefix(err.Error(), "unknown command"):
		return exitUsage
	}
	return exitRun
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "opiload",
		Short: "Load NC DAC Offender Public Information files into a SQL database",
		Long: `opiload loads the NC DAC Offender Public Information fixed-width files
into SQLite, PostgreSQL or SQL Server. One file is the reference: its key
column becomes the primary key every other table references.

Exit Codes:
  0 - Success
  1 - Run failed (download, extraction or load error)
  2 - Usage or configuration error`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logs with microsecond timestamps and per-batch lines")
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment; skipped when missing")

	root.AddCommand(newLoadCmd(a), newFilesCmd(a), newStatusCmd(a), newFetchCmd(a))
	return root
}
