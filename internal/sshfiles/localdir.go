package sshfiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutsideLocalDir is returned for a server-side path that leaves its
// LocalDir.
var ErrOutsideLocalDir = errors.New("path is outside the allowed directory")

// LocalDir is a server-side directory that local file access is confined
// to. Paths are checked lexically first, then opened through an os.Root so
// symlinks cannot point outside it either.
type LocalDir struct {
	path string
	root *os.Root
}

// OpenLocalDir opens path as a LocalDir, creating it if needed.
func OpenLocalDir(path string) (*LocalDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("local dir %s: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create local dir: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open local dir: %w", err)
	}
	return &LocalDir{path: abs, root: root}, nil
}

// Path returns the absolute directory path.
func (d *LocalDir) Path() string { return d.path }

// Close releases the directory handle.
func (d *LocalDir) Close() error { return d.root.Close() }

// Resolve maps p to a file path relative to the directory. p may be
// relative to it or absolute and inside it. The directory itself is not a
// valid file path.
func (d *LocalDir) Resolve(p string) (string, error) {
	rel := filepath.Clean(p)
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(d.path, rel)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideLocalDir, p)
		}
		rel = r
	}
	if rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideLocalDir, p)
	}
	return rel, nil
}

// ReadFile reads p from inside the directory.
func (d *LocalDir) ReadFile(p string) ([]byte, error) {
	rel, err := d.Resolve(p)
	if err != nil {
		return nil, err
	}
	return d.root.ReadFile(rel)
}

// WriteFile writes p inside the directory, creating missing parents.
func (d *LocalDir) WriteFile(p string, data []byte) error {
	rel, err := d.Resolve(p)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(rel); dir != "." {
		if err := d.root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return d.root.WriteFile(rel, data, 0o644)
}
