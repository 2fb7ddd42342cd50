package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const tmpPattern = ".dirmirror-*.tmp"

// AtomicWrite streams r into a temporary file in dst's directory through buf
// and renames it over dst. Readers of dst see either the old or the new
// content, never a partial write.
func AtomicWrite(dst string, r io.Reader, buf []byte, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()

	n, err := io.CopyBuffer(onlyWriter{f}, onlyReader{r}, buf)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to write: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}

	if perm != 0 {
		if err := os.Chmod(tmp, perm); err != nil {
			_ = os.Remove(tmp)
			return n, fmt.Errorf("failed to chmod temp file: %w", err)
		}
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to rename: %w", err)
	}

	return n, nil
}

// IsTempFile reports whether name was produced by AtomicWrite.
func IsTempFile(name string) bool {
	ok, _ := filepath.Match(tmpPattern, filepath.Base(name))
	return ok
}

func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// RemoveAllIfExists removes a file or a whole directory tree.
func RemoveAllIfExists(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// io.CopyBuffer bypasses buf when either side implements ReaderFrom or
// WriterTo; the wrappers keep every copy chunked through buf.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }
