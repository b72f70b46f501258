package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"opiload/internal/catalog"
	"opiload/internal/retry"
)

// HTTPStatusError is a non-200 download response.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// fetchClassifier retries transport failures, truncated bodies and 5xx.
var fetchClassifier = retry.Any{
	retry.NetworkClassifier{},
	retry.ClassifierFunc(func(err error) bool {
		var se *HTTPStatusError
		if errors.As(err, &se) {
			return se.Code >= 500
		}
		return errors.Is(err, io.ErrUnexpectedEOF)
	}),
}

// Fetcher downloads catalog archives.
type Fetcher struct {
	// Client defaults to a client with a 30 minute timeout.
	Client *http.Client

	// Retry defaults to retry.NewExponentialBackoff(3, WithInitialDelay(time.Second)).
	Retry retry.BackoffStrategy

	Logger interface{ Printf(string, ...any) }

	// Progress, when set, receives bytes as they are written.
	Progress func(id string, n int64)
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 30 * time.Minute}
}

func (f *Fetcher) logf(format string, v ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, v...)
	}
}

// Fetch downloads file.URL to <root>/<ID>.zip through a temp file and a
// rename, so a partial download never looks complete. The archive digest is
// verified when the catalog has one. It returns the bytes written.
func (f *Fetcher) Fetch(ctx context.Context, file catalog.File, root string) (int64, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}
	dest := Dir{Root: root}.ZipPath(file.ID)

	strategy := f.Retry
	if strategy == nil {
		strategy = retry.NewExponentialBackoff(3, retry.WithInitialDelay(time.Second))
	}
	ex := retry.NewExecutor(fetchClassifier, strategy).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		f.logf("stage=fetch file=%s status=retry attempt=%d delay=%s err=%v", file.ID, attempt+1, delay, err)
	})

	var n int64
	err := ex.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = f.download(ctx, file, dest)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", file.ID, err)
	}
	if err := VerifySHA256(dest, file.ZipSHA256); err != nil {
		_ = os.Remove(dest)
		return 0, err
	}
	f.logf("stage=fetch file=%s status=ok bytes=%d", file.ID, n)
	return n, nil
}

func (f *Fetcher) download(ctx context.Context, file catalog.File, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &HTTPStatusError{URL: file.URL, Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+file.ID+"-*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if f.Progress != nil {
		w = progressWriter{w: tmp, fn: func(n int64) { f.Progress(file.ID, n) }}
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short body %d/%d: %w", n, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, err
	}
	return n, nil
}

type progressWriter struct {
	w  io.Writer
	fn func(n int64)
}

func (p progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}
