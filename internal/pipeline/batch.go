package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/docflowhq/docflow/constants"
)

// Canceller removes a batch's not-yet-started jobs from a queue.
type Canceller interface {
	CancelBatch(ctx context.Context, queueName, batchID string) (int, error)
}

// BatchManager coordinates cooperative cancellation of multi-file import
// batches. Handlers check IsCancelled at file boundaries; Cancel drains the
// queues and removes partially staged files. Completed jobs are never
// rolled back.
type BatchManager struct {
	Queues  Canceller
	Staging string
	Logger  *slog.Logger

	mu        sync.Mutex
	cancelled map[string]struct{}
}

func NewBatchManager(queues Canceller, staging string, logger *slog.Logger) *BatchManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchManager{
		Queues:    queues,
		Staging:   staging,
		Logger:    logger.With("component", "batch"),
		cancelled: make(map[string]struct{}),
	}
}

// StagingDir returns the local landing directory for a batch. Batches get
// their own subdirectory so cancellation can remove partial downloads in
// one sweep.
func (b *BatchManager) StagingDir(batchID string) string {
	if batchID == "" {
		return b.Staging
	}
	return filepath.Join(b.Staging, batchID)
}

// IsCancelled reports whether the batch was cancelled. The empty batch id
// (single-file imports) is never cancelled.
func (b *BatchManager) IsCancelled(batchID string) bool {
	if batchID == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.cancelled[batchID]
	return ok
}

// Cancel stops a running batch: marks it cancelled so in-flight handlers
// skip at the next file boundary, removes waiting jobs from both import
// queues, and deletes the batch's staging directory.
func (b *BatchManager) Cancel(ctx context.Context, batchID string) error {
	if batchID == "" {
		return nil
	}
	b.mu.Lock()
	b.cancelled[batchID] = struct{}{}
	b.mu.Unlock()

	total := 0
	for _, q := range []string{constants.QueueFileImport, constants.QueueInvoiceImport} {
		n, err := b.Queues.CancelBatch(ctx, q, batchID)
		if err != nil {
			return err
		}
		total += n
	}
	if err := os.RemoveAll(b.StagingDir(batchID)); err != nil {
		b.Logger.Error("staging cleanup failed", "batch_id", batchID, "error", err)
	}
	b.Logger.Info("batch cancelled", "batch_id", batchID, "jobs_removed", total)
	return nil
}

// Forget releases bookkeeping for a finished batch.
func (b *BatchManager) Forget(batchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cancelled, batchID)
}
