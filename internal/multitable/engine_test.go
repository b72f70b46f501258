package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"opiload/internal/loader"
	"opiload/internal/schema"
	"opiload/internal/storage"
	_ "opiload/internal/storage/sqlite"
)

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type memFile struct{ des, dat string }

// eventProvider serves files from memory and records when the reference
// data stream is closed.
type eventProvider struct {
	files map[string]memFile
	ref   string
	ev    *events
}

type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type closeHook struct {
	io.Reader
	onClose func()
}

func (c closeHook) Close() error {
	c.onClose()
	return nil
}

func (p *eventProvider) Descriptor(_ context.Context, id string) (io.ReadCloser, error) {
	f, ok := p.files[id]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(f.des)), nil
}

func (p *eventProvider) Data(_ context.Context, id string) (io.ReadCloser, error) {
	f, ok := p.files[id]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return closeHook{Reader: strings.NewReader(f.dat), onClose: func() {
		if id == p.ref {
			p.ev.add("reference-data-done")
		}
	}}, nil
}

const des = "CMDORNUM   Offender Number   CHAR   1   7\n" +
	"NOTE       Note              CHAR   8   6\n"

func rows(ids ...string) string {
	var b strings.Builder
	for i, id := range ids {
		fmt.Fprintf(&b, "%-7s%-6s\n", id, fmt.Sprintf("n%d", i))
	}
	return b.String()
}

func newProvider(ev *events) *eventProvider {
	return &eventProvider{
		ref: "REF",
		ev:  ev,
		files: map[string]memFile{
			"REF": {des: des, dat: rows("0000001", "0000002", "0000003")},
			"A":   {des: des, dat: rows("0000001", "0000002", "9999999")},
			"B":   {des: des, dat: rows("0000003", "8888888", "7777777", "0000001")},
			"C":   {des: des, dat: rows("0000002")},
			"BAD": {des: "CMDORNUM   Offender Number   CHAR   0   7\n", dat: rows("0000001")},
		},
	}
}

func testEngine(t *testing.T, p loader.Provider, ev *events, workers int) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.db")
	return &Engine{
		Config: Config{
			Store:   storage.Config{Kind: "sqlite", DSN: path, JournalMode: "wal"},
			Workers: workers,
			Loader:  loader.Options{BatchSize: 2},
		},
		Provider: p,
		Logger:   &fakeLogger{},
		Open: func(ctx context.Context, cfg storage.Config, dur storage.Durability) (*storage.Conn, error) {
			ev.add("open-" + dur.String())
			return storage.Open(ctx, cfg, dur)
		},
	}, path
}

func files(ids ...string) []loader.File {
	out := make([]loader.File, 0, len(ids))
	for _, id := range ids {
		out = append(out, loader.File{ID: id, Name: id + " file"})
	}
	return out
}

func rowCount(t *testing.T, path, table string) int64 {
	t.Helper()
	c, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: path}, storage.DurabilityRelaxed)
	if err != nil {
		t.Fatalf("storage.Open err=%v", err)
	}
	defer c.Close()
	n, err := c.CountRows(context.Background(), table)
	if err != nil {
		t.Fatalf("CountRows(%s) err=%v", table, err)
	}
	return n
}

// TestRunLoadsAllFiles verifies the reference barrier, per-task connections
// and the merged error list.
func TestRunLoadsAllFiles(t *testing.T) {
	t.Parallel()

	ev := &events{}
	e, path := testEngine(t, newProvider(ev), ev, 2)

	s, err := e.Run(context.Background(), loader.File{ID: "REF", Name: "ref"}, files("A", "REF", "B", "C", "a"))
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if s.Failed() {
		t.Fatalf("Failures=%v, want none", s.Failures)
	}
	if len(s.Results) != 3 {
		t.Fatalf("len(Results)=%d, want 3", len(s.Results))
	}
	for i, id := range []string{"A", "B", "C"} {
		if s.Results[i].FileID != id {
			t.Fatalf("Results[%d]=%s, want %s", i, s.Results[i].FileID, id)
		}
	}
	if got := s.Processed(); got != 3+3+4+1 {
		t.Fatalf("Processed()=%d, want 11", got)
	}
	if len(s.Errors) != 3 {
		t.Fatalf("len(Errors)=%d, want 3", len(s.Errors))
	}
	if got := rowCount(t, path, "b"); got != 2 {
		t.Fatalf("rows in b=%d, want 2", got)
	}

	got := ev.snapshot()
	if got[0] != "open-full" {
		t.Fatalf("first event=%q, want open-full", got[0])
	}
	relaxed := 0
	barrier := false
	for _, e := range got[1:] {
		switch e {
		case "reference-data-done":
			barrier = true
		case "open-relaxed":
			if !barrier {
				t.Fatalf("worker connection opened before the reference was loaded: %v", got)
			}
			relaxed++
		}
	}
	if relaxed != 3 {
		t.Fatalf("relaxed opens=%d, want 3 (one per task)", relaxed)
	}
	if s.RunID.String() == "" {
		t.Fatalf("RunID not set")
	}
}

// TestRunUsesCallerAggregator verifies rejected rows land in a supplied
// aggregator.
func TestRunUsesCallerAggregator(t *testing.T) {
	t.Parallel()

	ev := &events{}
	e, _ := testEngine(t, newProvider(ev), ev, 2)
	e.Errors = loader.NewAggregator()

	s, err := e.Run(context.Background(), loader.File{ID: "REF"}, files("A", "B"))
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	n, err := e.Errors.Count()
	if err != nil || n != 3 || len(s.Errors) != 3 {
		t.Fatalf("Count()=%d,%v len(Errors)=%d, want 3", n, err, len(s.Errors))
	}
}

// TestRunReferenceFailureAborts verifies no task runs when the reference
// cannot be loaded.
func TestRunReferenceFailureAborts(t *testing.T) {
	t.Parallel()

	ev := &events{}
	p := newProvider(ev)
	p.files["REF"] = memFile{des: "NOTE  Note  CHAR  1  6\n", dat: rows("x")}
	e, _ := testEngine(t, p, ev, 4)

	_, err := e.Run(context.Background(), loader.File{ID: "REF"}, files("A", "B"))
	if !errors.Is(err, schema.ErrMissingPrimaryKey) {
		t.Fatalf("Run()=%v, want ErrMissingPrimaryKey", err)
	}
	for _, e := range ev.snapshot() {
		if e == "open-relaxed" {
			t.Fatalf("worker connection opened after reference failure")
		}
	}
}

// TestRunRecordsTaskFailure verifies one bad file does not stop the others.
func TestRunRecordsTaskFailure(t *testing.T) {
	t.Parallel()

	ev := &events{}
	e, _ := testEngine(t, newProvider(ev), ev, 1)
	lg := e.Logger.(*fakeLogger)

	s, err := e.Run(context.Background(), loader.File{ID: "REF"}, files("BAD", "MISSING", "C"))
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(s.Failures) != 2 {
		t.Fatalf("Failures=%v, want 2", s.Failures)
	}
	var malformed, missing bool
	for _, f := range s.Failures {
		malformed = malformed || (f.FileID == "BAD" && errors.Is(f.Err, schema.ErrMalformedSchema))
		missing = missing || (f.FileID == "MISSING" && errors.Is(f.Err, fs.ErrNotExist))
	}
	if !malformed || !missing {
		t.Fatalf("Failures=%v, want BAD malformed and MISSING not found", s.Failures)
	}
	if len(s.Results) != 1 || s.Results[0].FileID != "C" {
		t.Fatalf("Results=%+v, want only C", s.Results)
	}
	if !lg.contains("stage=worker file=BAD status=failed") {
		t.Fatalf("failure not logged: %v", lg.msgs)
	}
}

// TestRunCancelled verifies a cancelled context stops the run.
func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ev := &events{}
	e, _ := testEngine(t, newProvider(ev), ev, 1)
	ctx, cancel := context.WithCancel(context.Background())
	e.Config.Loader.Progress = func(id string, _ int) {
		if id == "REF" {
			cancel()
		}
	}

	if _, err := e.Run(ctx, loader.File{ID: "REF"}, files("A", "B")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run()=%v, want context.Canceled", err)
	}
}

// TestConfigValidate verifies every problem is reported.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	err := Config{Store: storage.Config{Kind: "nope"}, Workers: -1, Loader: loader.Options{BatchSize: -2}}.Validate()
	if err == nil {
		t.Fatalf("Validate() err=nil")
	}
	for _, want := range []string{"nope", "dsn", "workers", "batch size"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate()=%v, missing %q", err, want)
		}
	}
	ok := Config{Store: storage.Config{Kind: "sqlite", DSN: "x.db"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate()=%v, want nil", err)
	}
	if d := ok.withDefaults(); d.Workers < 1 || d.RunID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("withDefaults()=%+v", d)
	}
}
