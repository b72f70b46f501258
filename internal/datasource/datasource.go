// Package datasource locates, downloads, verifies and unpacks OPI data files
// on local disk.
//
// Layout under a data root:
//
//	<root>/<ID>.zip          downloaded archive
//	<root>/<ID>/<ID>.des     extracted descriptor
//	<root>/<ID>/<ID>.dat     extracted data
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"opiload/internal/catalog"
)

// ErrNotFound is returned when an expected file is absent.
var ErrNotFound = errors.New("datasource: not found")

// Dir serves extracted files from Root. It implements loader.Provider.
type Dir struct {
	Root string
}

// ZipPath returns where the archive for id lives.
func (d Dir) ZipPath(id string) string { return filepath.Join(d.Root, normID(id)+".zip") }

// ExtractDir returns the directory an archive for id extracts into.
func (d Dir) ExtractDir(id string) string { return filepath.Join(d.Root, normID(id)) }

// DescriptorPath returns the path of the .des file for id.
func (d Dir) DescriptorPath(id string) string {
	id = normID(id)
	return filepath.Join(d.Root, id, id+".des")
}

// DataPath returns the path of the .dat file for id.
func (d Dir) DataPath(id string) string {
	id = normID(id)
	return filepath.Join(d.Root, id, id+".dat")
}

// Descriptor opens the .des file for id.
func (d Dir) Descriptor(ctx context.Context, id string) (io.ReadCloser, error) {
	return openFile(ctx, d.DescriptorPath(id))
}

// Data opens the .dat file for id.
func (d Dir) Data(ctx context.Context, id string) (io.ReadCloser, error) {
	return openFile(ctx, d.DataPath(id))
}

func openFile(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return f, nil
}

func normID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

// FileStatus is what is on disk for one catalog file.
type FileStatus int

const (
	// StatusMissing: neither archive nor extracted files.
	StatusMissing FileStatus = iota
	// StatusArchived: archive present, not extracted.
	StatusArchived
	// StatusExtracted: extracted files present alongside the archive.
	StatusExtracted
	// StatusUnverifiable: extracted files present but the archive is gone.
	StatusUnverifiable
)

func (s FileStatus) String() string {
	switch s {
	case StatusArchived:
		return "archived"
	case StatusExtracted:
		return "extracted"
	case StatusUnverifiable:
		return "unverifiable"
	default:
		return "missing"
	}
}

// Loadable reports whether the extracted files exist.
func (s FileStatus) Loadable() bool { return s == StatusExtracted || s == StatusUnverifiable }

// Status inspects root for f.
func Status(root string, f catalog.File) FileStatus {
	d := Dir{Root: root}
	zip := isFile(d.ZipPath(f.ID))
	extracted := isFile(d.DescriptorPath(f.ID)) && isFile(d.DataPath(f.ID))
	switch {
	case extracted && zip:
		return StatusExtracted
	case extracted:
		return StatusUnverifiable
	case zip:
		return StatusArchived
	default:
		return StatusMissing
	}
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Clean removes the extracted directory for id. The archive is kept.
func Clean(root, id string) error {
	dir := Dir{Root: root}.ExtractDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clean %s: %w", dir, err)
	}
	return nil
}
