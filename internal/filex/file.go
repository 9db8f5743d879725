// Package filex writes output files atomically: content goes to a temporary
// file next to the destination and only replaces it on Commit.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicFile is an *os.File that becomes visible at its destination only
// after Commit. Abort, or a failed Commit, leaves nothing behind.
type AtomicFile struct {
	*os.File
	dest string
	done bool
}

// CreateAtomic prepares dest for writing, creating its directory if needed.
func CreateAtomic(dest string) (*AtomicFile, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicFile{File: f, dest: dest}, nil
}

// Commit flushes the file and renames it over the destination.
func (a *AtomicFile) Commit() error {
	if a.done {
		return errors.New("filex: file already closed")
	}
	a.done = true

	err := a.File.Sync()
	if cerr := a.File.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(a.File.Name(), a.dest)
	}
	if err != nil {
		_ = os.Remove(a.File.Name())
		return fmt.Errorf("commit %s: %w", a.dest, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	_ = a.File.Close()
	_ = os.Remove(a.File.Name())
}
