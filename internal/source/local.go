package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Local reads and moves files on the local filesystem.
type Local struct{}

// NewLocal creates a local filesystem source.
func NewLocal() *Local { return &Local{} }

func (s *Local) Kind() string { return "local" }

func (s *Local) List(_ context.Context, dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return out, nil
}

func (s *Local) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (s *Local) WriteFile(_ context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.MkdirAll(ctx, filepath.Dir(newPath)); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

func (s *Local) Remove(_ context.Context, path string) error {
	return os.Remove(path)
}

func (s *Local) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func (s *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Local) Close() error { return nil }
