package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTP reads and moves files on a remote FTP tree.
type FTP struct {
	conn *ftp.ServerConn
}

// DialFTP connects and authenticates against an FTP server.
func DialFTP(ctx context.Context, cfg Config) (*FTP, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(cfg.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", cfg.Addr, err)
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return &FTP{conn: conn}, nil
}

func (s *FTP) Kind() string { return "ftp" }

func (s *FTP) List(_ context.Context, dir string) ([]FileInfo, error) {
	entries, err := s.conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", dir, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, FileInfo{
			Path:    path.Join(dir, e.Name),
			Name:    e.Name,
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

func (s *FTP) Open(_ context.Context, p string) (io.ReadCloser, error) {
	resp, err := s.conn.Retr(p)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", p, err)
	}
	return resp, nil
}

func (s *FTP) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := s.MkdirAll(ctx, path.Dir(p)); err != nil {
		return err
	}
	if err := s.conn.Stor(p, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("ftp stor %s: %w", p, err)
	}
	return nil
}

func (s *FTP) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.MkdirAll(ctx, path.Dir(newPath)); err != nil {
		return err
	}
	if err := s.conn.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("ftp rename %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (s *FTP) Remove(_ context.Context, p string) error {
	return s.conn.Delete(p)
}

// MkdirAll creates each path segment; already-existing segments are fine.
func (s *FTP) MkdirAll(_ context.Context, dir string) error {
	dir = path.Clean(dir)
	if dir == "." || dir == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(dir, "/"), "/")
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, seg := range segments {
		cur = path.Join(cur, seg)
		// MakeDir fails when the directory exists; that is not an error here.
		_ = s.conn.MakeDir(cur)
	}
	return nil
}

func (s *FTP) Exists(_ context.Context, p string) (bool, error) {
	if _, err := s.conn.FileSize(p); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *FTP) Close() error { return s.conn.Quit() }
