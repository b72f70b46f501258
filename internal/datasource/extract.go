package datasource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Extract unpacks zipPath into dest and returns the bytes written.
//
// dest is removed first so stale files from an earlier run never mix with
// the new ones. Entries whose names would land outside dest are rejected.
// ctx is checked between entries.
func Extract(ctx context.Context, zipPath, dest string) (int64, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer zr.Close()

	if err := os.RemoveAll(dest); err != nil {
		return 0, fmt.Errorf("reset %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		target, err := entryPath(root, zf.Name)
		if err != nil {
			return total, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return total, err
			}
			continue
		}
		n, err := extractEntry(zf, target)
		total += n
		if err != nil {
			return total, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
	}
	return total, nil
}

// entryPath resolves name under root, refusing absolute paths and ".."
// escapes.
func entryPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("datasource: zip entry %q escapes destination", name)
	}
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("datasource: zip entry %q escapes destination", name)
	}
	return target, nil
}

func extractEntry(zf *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ExtractFile extracts <root>/<ID>.zip into <root>/<ID>.
func ExtractFile(ctx context.Context, root, id string) (int64, error) {
	d := Dir{Root: root}
	return Extract(ctx, d.ZipPath(id), d.ExtractDir(id))
}
