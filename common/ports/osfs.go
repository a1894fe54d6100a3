package ports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OSFileSystem roots every path under a base directory. Escapes via ".." are
// rejected so a diagram cannot read outside its workspace.
type OSFileSystem struct {
	base string
}

// NewOSFileSystem creates the base directory when missing.
func NewOSFileSystem(base string) (*OSFileSystem, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("ports: resolve base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ports: create base dir: %w", err)
	}
	return &OSFileSystem{base: abs}, nil
}

func (f *OSFileSystem) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		path = strings.TrimPrefix(path, string(filepath.Separator))
	}
	full := filepath.Join(f.base, path)
	if full != f.base && !strings.HasPrefix(full, f.base+string(filepath.Separator)) {
		return "", fmt.Errorf("ports: path %q escapes workspace", path)
	}
	return full, nil
}

func (f *OSFileSystem) ReadFile(path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (f *OSFileSystem) WriteFile(path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("ports: create parent dir: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

func (f *OSFileSystem) AppendFile(path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("ports: create parent dir: %w", err)
	}
	file, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(data)
	return err
}

func (f *OSFileSystem) Exists(path string) bool {
	full, err := f.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}
