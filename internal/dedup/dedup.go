// Package dedup decides whether a content digest has already been ingested,
// honoring the configured retention window for soft-deleted documents.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docflowhq/docflow/internal/repository"
)

// Index answers duplicate queries against the document store.
type Index struct {
	Docs repository.DocumentStore
	// RetentionDays permits re-upload of a document soft-deleted more than
	// this many days ago. Zero means deleted documents stay duplicates
	// forever.
	RetentionDays int
	Logger        *slog.Logger
}

func NewIndex(docs repository.DocumentStore, retentionDays int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{Docs: docs, RetentionDays: retentionDays, Logger: logger}
}

// Check reports whether digest is a duplicate and, when it is, the record it
// duplicates.
func (i *Index) Check(ctx context.Context, digest string) (bool, *repository.DocumentRecord, error) {
	rec, err := i.Docs.FindByDigest(ctx, digest)
	if err != nil {
		return false, nil, fmt.Errorf("find by digest: %w", err)
	}
	if rec == nil {
		return false, nil, nil
	}
	if rec.DeletedAt != nil && i.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -i.RetentionDays)
		if rec.DeletedAt.Before(cutoff) {
			i.Logger.Info("digest previously deleted beyond retention, allowing re-ingestion",
				"digest", digest, "deleted_at", rec.DeletedAt)
			return false, nil, nil
		}
	}
	return true, rec, nil
}
