package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"opiload/internal/loader"
	"opiload/internal/multitable"
)

// printer renders human output. Colors are dropped when w is not a terminal.
type printer struct {
	w     io.Writer
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	dim   lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:     w,
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

func (p *printer) line(format string, a ...any) {
	fmt.Fprintf(p.w, format+"\n", a...)
}

func formatCount(n int64) string { return humanize.Comma(n) }

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(10 * time.Millisecond)
}

func (p *printer) plan(plan dataPlan) {
	if plan.extracted > 0 {
		p.line("%s Decompressed %d files - %s in %s",
			p.ok.Render("✓"), plan.extracted, formatBytes(plan.bytes), round(plan.extractTime))
	}
	for _, f := range plan.unverifiable {
		p.line("%s %s (%s): extracted data present but the archive is missing; integrity not verified",
			p.warn.Render("!"), f.ID, f.Name)
	}
	for _, s := range plan.skipped {
		p.line("%s Skipped %s (%s)", p.dim.Render("i"), s.File.ID, s.Reason)
	}
}

func (p *printer) result(mark string, r loader.Result, name string) {
	line := fmt.Sprintf("%s %-8s %s -> %s: %s rows", mark, r.FileID, name, r.Table, formatCount(int64(r.Processed)))
	if n := len(r.Errors); n > 0 {
		line += p.warn.Render(fmt.Sprintf(", %s rejected", formatCount(int64(n))))
	}
	p.line("%s %s", line, p.dim.Render("in "+round(r.Duration).String()))
}

// session prints one line per file, the failures, the totals and, with
// showErrors, every rejected row.
func (p *printer) session(s *multitable.Session, names map[string]string, showErrors bool) {
	p.line("")
	p.line("%s", p.title.Render("Reference"))
	p.result(p.ok.Render("✓"), s.Reference, names[s.Reference.FileID])

	if len(s.Results) > 0 || len(s.Failures) > 0 {
		p.line("")
		p.line("%s", p.title.Render("Files"))
	}
	for _, r := range s.Results {
		p.result(p.ok.Render("✓"), r, names[r.FileID])
	}
	for _, f := range s.Failures {
		p.line("%s %-8s %s", p.fail.Render("✗"), f.FileID, p.fail.Render(f.Err.Error()))
	}

	p.line("")
	files := 1 + len(s.Results)
	p.line("%s Loaded %d files, %s rows, %s rejected in %s %s",
		p.ok.Render("✓"), files, formatCount(int64(s.Processed())), formatCount(int64(len(s.Errors))),
		round(s.Duration), p.dim.Render("(run "+s.RunID.String()+")"))

	if len(s.Errors) == 0 {
		return
	}
	if !showErrors {
		p.line("%s %s rows were rejected; rerun with --show-errors to list them",
			p.warn.Render("!"), formatCount(int64(len(s.Errors))))
		return
	}
	for i, d := range s.Errors {
		p.line("\n[%d/%d] %s", i+1, len(s.Errors), d.Message)
		if d.EngineError != "" {
			p.line("  %s", p.dim.Render(d.EngineError))
		}
	}
}

func (p *printer) cleaned() {
	p.line("%s Cleaned up data files", p.ok.Render("✓"))
}

// table renders rows under headers.
func (p *printer) table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	p.line("%s", t.String())
}

// progress prints a running total every interval until stopped. It is safe
// for concurrent use; a zero interval disables printing.
type progress struct {
	w      io.Writer
	unit   string
	every  time.Duration
	format func(int64) string
	total  atomic.Int64
}

func newProgress(w io.Writer, unit string, every time.Duration, format func(int64) string) *progress {
	return &progress{w: w, unit: unit, every: every, format: format}
}

func (p *progress) addRows(_ string, n int) { p.total.Add(int64(n)) }

func (p *progress) addBytes(_ string, n int64) { p.total.Add(n) }

func (p *progress) start() (stop func()) {
	if p.every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.every)
		defer t.Stop()
		began := time.Now()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				n := p.total.Load()
				rate := float64(n) / time.Since(began).Seconds()
				fmt.Fprintf(p.w, "  ... %s %s (%s/s)\n", p.format(n), p.unit, p.format(int64(rate)))
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
