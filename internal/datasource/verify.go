package datasource

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"opiload/internal/catalog"
)

// ErrChecksumMismatch is returned when a file's SHA-256 differs from the
// catalog.
var ErrChecksumMismatch = errors.New("datasource: sha256 mismatch")

// SHA256File returns the hex SHA-256 of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256 checks path against want. An empty want always passes.
func VerifySHA256(path, want string) error {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return nil
	}
	got, err := SHA256File(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, path, got, want)
	}
	return nil
}

// VerifyExtracted checks the extracted .des and .dat of f.
func VerifyExtracted(root string, f catalog.File) error {
	d := Dir{Root: root}
	return errors.Join(
		VerifySHA256(d.DescriptorPath(f.ID), f.DesSHA256),
		VerifySHA256(d.DataPath(f.ID), f.DatSHA256),
	)
}
