package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP reads and moves files on a remote SFTP tree.
type SFTP struct {
	ssh    *ssh.Client
	client *sftp.Client
}

// DialSFTP connects and authenticates against an SSH server and opens an
// SFTP subsystem session.
func DialSFTP(cfg Config) (*SFTP, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	conn, err := ssh.Dial("tcp", cfg.Addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("sftp dial %s: %w", cfg.Addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	return &SFTP{ssh: conn, client: client}, nil
}

func (s *SFTP) Kind() string { return "sftp" }

func (s *SFTP) List(_ context.Context, dir string) ([]FileInfo, error) {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sftp readdir %s: %w", dir, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, FileInfo{
			Path:    path.Join(dir, e.Name()),
			Name:    e.Name(),
			Size:    e.Size(),
			ModTime: e.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return out, nil
}

func (s *SFTP) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := s.client.Open(p)
	if err != nil {
		return nil, fmt.Errorf("sftp open %s: %w", p, err)
	}
	return f, nil
}

func (s *SFTP) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := s.MkdirAll(ctx, path.Dir(p)); err != nil {
		return err
	}
	f, err := s.client.Create(p)
	if err != nil {
		return fmt.Errorf("sftp create %s: %w", p, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sftp write %s: %w", p, err)
	}
	return nil
}

func (s *SFTP) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.MkdirAll(ctx, path.Dir(newPath)); err != nil {
		return err
	}
	if err := s.client.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("sftp rename %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (s *SFTP) Remove(_ context.Context, p string) error {
	return s.client.Remove(p)
}

func (s *SFTP) MkdirAll(_ context.Context, dir string) error {
	return s.client.MkdirAll(dir)
}

func (s *SFTP) Exists(_ context.Context, p string) (bool, error) {
	_, err := s.client.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}
