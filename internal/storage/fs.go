package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/nous/internal/apperr"
)

// tempPattern names atomic-write temp files. The leading dot keeps them out
// of scans and watcher events.
const tempPattern = ".nous-tmp-*"

// FS implements Provider on the local file system. Every path it accepts is
// local to the realm root and has no hidden component.
type FS struct {
	root string
}

// NewFS returns a provider rooted at the existing directory root.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute realm root.
func (f *FS) Root() string { return f.root }

// Abs returns the absolute path of rel.
func (f *FS) Abs(rel string) (string, error) { return f.resolve(rel) }

func (f *FS) resolve(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("storage: path %q is outside the realm", rel)
	}
	for part := range strings.SplitSeq(filepath.ToSlash(filepath.Clean(local)), "/") {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("storage: path %q is hidden", rel)
		}
	}
	return filepath.Join(f.root, local), nil
}

// Read returns the content of a node file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	return data, nil
}

// Write replaces the content of path through a synced temp file and a
// rename, so readers see either the old or the new content. An existing
// file keeps its permission bits.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrap("write", path, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return wrap("write", path, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return wrap("write", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return wrap("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return wrap("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return wrap("write", path, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return wrap("write", path, err)
	}
	committed = true
	return SyncDir(dir)
}

// Create writes a new file, failing with ErrAlreadyExists when path exists.
func (f *FS) Create(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return wrap("create", path, err)
	}
	file, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return wrap("create", path, err)
	}
	_, err = file.Write(content)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return wrap("create", path, err)
	}
	return nil
}

// Touch sets the modification time of path to t.
func (f *FS) Touch(path string, t time.Time) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	return wrap("touch", path, os.Chtimes(abs, t, t))
}

// Delete removes a node file.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	return wrap("delete", path, os.Remove(abs))
}

// Move renames oldPath to newPath, creating parent directories. It never
// replaces an existing file: the new name is claimed with a hard link, and
// only where links are unsupported does it fall back to check-then-rename.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.resolve(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(absOld); err != nil {
		return wrap("move", oldPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return wrap("move", newPath, err)
	}

	switch err := os.Link(absOld, absNew); {
	case err == nil:
		if err := os.Remove(absOld); err != nil {
			return wrap("move", oldPath, err)
		}
	case errors.Is(err, fs.ErrExist):
		return wrap("move", newPath, err)
	default:
		if _, err := os.Lstat(absNew); err == nil {
			return wrap("move", newPath, fs.ErrExist)
		}
		if err := os.Rename(absOld, absNew); err != nil {
			return wrap("move", oldPath, err)
		}
	}

	if err := SyncDir(filepath.Dir(absNew)); err != nil {
		return err
	}
	return SyncDir(filepath.Dir(absOld))
}

// SyncDir fsyncs a directory so that a rename inside it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("storage: sync dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("storage: sync dir: %w", err)
	}
	return nil
}

// wrap maps file system errors onto the realm taxonomy. It returns nil for
// a nil err.
func wrap(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("storage: %s %s: %w", op, path, apperr.ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("storage: %s %s: %w", op, path, apperr.ErrAlreadyExists)
	default:
		return apperr.IO(op, path, err)
	}
}
