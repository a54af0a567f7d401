// Package router moves files between the unprocessed, processed, duplicate,
// and failed locations on the source filesystem.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/source"
)

// Paths holds the terminal base folders on the source.
type Paths struct {
	Processed string
	Failed    string
}

// Router builds date-partitioned destinations and performs collision-safe
// moves. It never overwrites an existing file.
type Router struct {
	Source source.Source
	Paths  Paths
	Logger *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(src source.Source, paths Paths, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{Source: src, Paths: paths, Logger: logger, Now: time.Now}
}

// Route moves filePath into the dated folder for state and returns the new
// path. On a name collision a timestamp suffix is appended before retrying.
func (r *Router) Route(ctx context.Context, filePath string, state constants.TerminalState) (string, error) {
	base, err := r.baseFolder(state)
	if err != nil {
		return "", err
	}
	day := r.Now().UTC().Format("2006-01-02")
	dir := path.Join(base, day)
	name := path.Base(filePath)

	// Rename overwrites silently, so every candidate name is checked, the
	// suffixed ones included.
	dest := path.Join(dir, name)
	for attempt := 0; ; attempt++ {
		exists, err := r.Source.Exists(ctx, dest)
		if err != nil {
			return "", fmt.Errorf("check destination: %w", err)
		}
		if !exists {
			break
		}
		dest = path.Join(dir, suffixed(name, r.Now(), attempt))
	}

	if err := r.Source.Rename(ctx, filePath, dest); err != nil {
		return "", fmt.Errorf("move %s -> %s: %w", filePath, dest, err)
	}
	r.Logger.Info("file routed", "from", filePath, "to", dest, "state", state)
	return dest, nil
}

// RouteFailed moves filePath to the failed folder and writes a sidecar
// error note next to it. Sidecar write failures are logged, not returned:
// the move already succeeded.
func (r *Router) RouteFailed(ctx context.Context, filePath string, cause error) (string, error) {
	dest, err := r.Route(ctx, filePath, constants.TerminalFailed)
	if err != nil {
		return "", err
	}
	note := fmt.Sprintf("failed_at: %s\nerror: %v\n", r.Now().UTC().Format(time.RFC3339), cause)
	if err := r.Source.WriteFile(ctx, dest+".error.txt", []byte(note)); err != nil {
		r.Logger.Error("failed to write error sidecar", "path", dest, "error", err)
	}
	return dest, nil
}

func (r *Router) baseFolder(state constants.TerminalState) (string, error) {
	switch state {
	case constants.TerminalProcessed:
		return r.Paths.Processed, nil
	case constants.TerminalDuplicate:
		return path.Join(r.Paths.Processed, "duplicates"), nil
	case constants.TerminalFailed:
		return r.Paths.Failed, nil
	default:
		return "", fmt.Errorf("unknown terminal state %q", state)
	}
}

func suffixed(name string, now time.Time, attempt int) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	ts := now.UTC().Format("20060102T150405.000")
	if attempt > 0 {
		return fmt.Sprintf("%s-%s-%d%s", stem, ts, attempt, ext)
	}
	return fmt.Sprintf("%s-%s%s", stem, ts, ext)
}
