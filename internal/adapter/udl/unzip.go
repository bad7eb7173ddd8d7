package udl

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Unzip extracts an archive into destDir, preserving entry paths, and
// returns the number of files written. Entry names are checked against
// directory traversal before anything touches disk. Callers can test for
// zip.ErrFormat to tell "not an archive" from real extraction failures.
func Unzip(archive, destDir string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	written := 0
	for _, entry := range r.File {
		clean := filepath.Clean(entry.Name)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return written, fmt.Errorf("unsafe path %q in %s", entry.Name, filepath.Base(archive))
		}
		dest := filepath.Join(destDir, clean)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return written, fmt.Errorf("create %s: %w", dest, err)
			}
			continue
		}
		if err := extractFile(entry, dest); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archived %s: %w", entry.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return out.Close()
}
