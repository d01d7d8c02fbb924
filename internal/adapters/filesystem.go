package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalFilesystem implements FilesystemAdapter against the real filesystem.
type LocalFilesystem struct{}

func (LocalFilesystem) WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (LocalFilesystem) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (LocalFilesystem) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// AcquireLock creates an advisory lock file under dir. It is exclusive at
// the process level: a second call while the file exists fails. The
// returned release func removes the file.
func (LocalFilesystem) AcquireLock(dir string) (func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: another process holds the reports directory lock", lockPath)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	f.Close()
	return func() error { return os.Remove(lockPath) }, nil
}
