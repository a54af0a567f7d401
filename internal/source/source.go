// Package source abstracts the drop-folder backends files are ingested from
// and routed on: local directories, FTP trees, and SFTP trees.
package source

import (
	"context"
	"errors"
	"io"
	"time"
)

// FileInfo describes one candidate file on a source.
type FileInfo struct {
	Path    string // full path on the source
	Name    string // base name
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Source is the filesystem surface the scanner and router operate on.
// Implementations must be safe for use by one goroutine at a time; the
// pipeline opens a connection per job where concurrency is needed.
type Source interface {
	Kind() string
	List(ctx context.Context, dir string) ([]FileInfo, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, dir string) error
	Exists(ctx context.Context, path string) (bool, error)
	Close() error
}

// Config selects and parameterizes a source backend.
type Config struct {
	Kind     string // "local" | "ftp" | "sftp"
	Addr     string
	User     string
	Password string
	Timeout  time.Duration
}

var ErrInvalidSourceKind = errors.New("invalid source kind")

// New constructs a source based on the configured kind. Remote kinds dial
// eagerly so configuration problems surface at startup.
func New(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Kind {
	case "local", "":
		return NewLocal(), nil
	case "ftp":
		return DialFTP(ctx, cfg)
	case "sftp":
		return DialSFTP(cfg)
	default:
		return nil, ErrInvalidSourceKind
	}
}
