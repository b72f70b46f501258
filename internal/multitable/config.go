package multitable

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"opiload/internal/loader"
	"opiload/internal/storage"
)

// Config controls one parallel run.
type Config struct {
	// Store is opened once with full durability for the reference file and
	// once per task with relaxed durability.
	Store storage.Config

	// Workers bounds concurrent tasks. Defaults to runtime.NumCPU().
	Workers int

	// RunID identifies the run in logs and metrics. Zero means generate one.
	RunID uuid.UUID

	// Loader is passed to every loader the engine builds.
	Loader loader.Options
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	return c
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Kind == "" {
		errs = append(errs, fmt.Errorf("store kind must be set"))
	} else if _, err := storage.Lookup(c.Store.Kind); err != nil {
		errs = append(errs, err)
	}
	if c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store dsn must be set"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.Loader.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch size must be >= 0, got %d", c.Loader.BatchSize))
	}
	return errors.Join(errs...)
}
