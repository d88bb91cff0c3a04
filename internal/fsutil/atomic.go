// Package fsutil provides crash-safe file publication.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

// AtomicFile is a temporary file that becomes visible at its final path
// only when Commit succeeds. Until then the final path is untouched.
type AtomicFile struct {
	*os.File
	path string
	done bool
}

// CreateAtomic creates a temporary file next to path. The caller must call
// Commit or Abort; Abort after Commit is a no-op, so it is safe to defer.
func CreateAtomic(path string, perm os.FileMode) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to chmod temp file: %w", err)
	}

	return &AtomicFile{File: f, path: path}, nil
}

// Path returns the final path.
func (a *AtomicFile) Path() string {
	return a.path
}

// Commit flushes the file to stable storage and renames it into place.
func (a *AtomicFile) Commit() error {
	if a.done {
		return fmt.Errorf("atomic file %s already finished", a.path)
	}
	a.done = true

	tmp := a.File.Name()
	if err := a.File.Sync(); err != nil {
		a.File.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := a.File.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, a.path, err)
	}

	return SyncDir(filepath.Dir(a.path))
}

// Abort discards the temporary file.
func (a *AtomicFile) Abort() error {
	if a.done {
		return nil
	}
	a.done = true

	var result *multierror.Error
	if err := a.File.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.Remove(a.File.Name()); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := CreateAtomic(path, perm)
	if err != nil {
		return err
	}
	defer f.Abort()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Commit()
}

// SyncDir fsyncs a directory so that a rename inside it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()

	// Some filesystems reject fsync on directories.
	if err := d.Sync(); err != nil && !isUnsupportedSync(err) {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}
