package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/queue"
)

// Purger trims finished jobs out of the queue store.
type Purger interface {
	PurgeCompleted(ctx context.Context, maxAge time.Duration) (int, error)
}

// Tasks dispatches scheduled-task jobs by name.
type Tasks struct {
	Scanner    *ingest.Scanner
	Purger     Purger
	StagingDir string
	// CompletedMaxAge bounds how long finished jobs stay queryable.
	CompletedMaxAge time.Duration
	// StagingMaxAge bounds how long orphaned staged files survive.
	StagingMaxAge time.Duration
	Logger        *slog.Logger
}

func (t *Tasks) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodePayload[queue.ScheduledTaskPayload](job.Payload)
	if err != nil {
		return common.Unrecoverable(err)
	}
	switch payload.TaskName {
	case constants.TaskLocalFolderScan:
		_, err := t.Scanner.Scan(ctx)
		return err
	case constants.TaskFileCleanup:
		return t.cleanup(ctx)
	default:
		return common.Unrecoverablef("unknown scheduled task %q", payload.TaskName)
	}
}

// cleanup purges old completed jobs and sweeps orphaned staging files left
// behind by crashed or cancelled imports.
func (t *Tasks) cleanup(ctx context.Context) error {
	maxAge := t.CompletedMaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	purged, err := t.Purger.PurgeCompleted(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("purge completed jobs: %w", err)
	}

	stagingAge := t.StagingMaxAge
	if stagingAge <= 0 {
		stagingAge = 24 * time.Hour
	}
	removed := 0
	cutoff := time.Now().Add(-stagingAge)
	walkErr := filepath.Walk(t.StagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || info.ModTime().After(cutoff) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			t.Logger.Error("staging sweep remove failed", "path", path, "error", rmErr)
			return nil
		}
		removed++
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return fmt.Errorf("sweep staging: %w", walkErr)
	}
	t.Logger.Info("cleanup finished", "purged_jobs", purged, "removed_staged_files", removed)
	return nil
}
