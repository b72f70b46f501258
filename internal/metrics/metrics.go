// Package metrics is the backend-neutral metrics facade used by the loader.
//
// Core code calls the package-level helpers; the CLI installs a concrete
// backend (see internal/metrics/datadog) once at startup. Until then every
// call goes to a no-op backend.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metric names emitted by the loader and engine.
const (
	RecordsTotal        = "opiload_records_total"
	BatchesTotal        = "opiload_batches_total"
	BatchRetriesTotal   = "opiload_batch_retries_total"
	FilesTotal          = "opiload_files_total"
	FileDurationSeconds = "opiload_file_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

type holder struct{ b Backend }

var current atomic.Pointer[holder]

func init() { current.Store(&holder{b: nopBackend{}}) }

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(&holder{b: b})
}

func backend() Backend { return current.Load().b }

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit anything buffered.
func Flush() error { return backend().Flush() }

// RecordFile counts one finished file and its duration.
func RecordFile(status string, d time.Duration) {
	l := Labels{"status": status}
	IncCounter(FilesTotal, 1, l)
	ObserveHistogram(FileDurationSeconds, d.Seconds(), l)
}
