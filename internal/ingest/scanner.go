package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/dedup"
	"github.com/docflowhq/docflow/internal/metrics"
	"github.com/docflowhq/docflow/internal/queue"
	"github.com/docflowhq/docflow/internal/repository"
	"github.com/docflowhq/docflow/internal/router"
	"github.com/docflowhq/docflow/internal/source"
)

// Enqueuer is the slice of the queue manager the scanner needs.
type Enqueuer interface {
	HasPending(ctx context.Context, queueName, key string) (bool, error)
	EnqueueJSON(ctx context.Context, queueName, name string, payload any, opts ...queue.JobOption) (*queue.Job, error)
}

// ScannerConfig parameterizes one scan cycle.
type ScannerConfig struct {
	UnprocessedDir string
	MinFileAge     time.Duration // ignore files newer than this, they may still be uploading
	SourceTag      string        // recorded on documents for provenance
}

// Scanner walks the unprocessed folder each polling cycle and promotes
// eligible files into jobs. Local files are hashed and dedup-checked up
// front; remote files go through the file-import queue, which downloads
// before hashing.
type Scanner struct {
	Source   source.Source
	Queue    Enqueuer
	Docs     repository.DocumentStore
	Dedup    *dedup.Index
	Router   *router.Router
	ScanRuns repository.ScanRunStore
	Logger   *slog.Logger
	Config   ScannerConfig

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Scan runs one polling cycle. Per-file errors are counted and the file is
// routed to failed with a sidecar; the cycle itself only errors when the
// source listing is unavailable.
func (s *Scanner) Scan(ctx context.Context) (*repository.ScanRun, error) {
	now := s.now()
	run := &repository.ScanRun{SourceName: s.Config.SourceTag, StartedAt: now}

	files, err := s.Source.List(ctx, s.Config.UnprocessedDir)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		run.Scanned++
		out := s.scanOne(ctx, f)
		metrics.FilesScanned.WithLabelValues(out.String()).Inc()
		switch out {
		case outcomeQueued:
			run.Queued++
		case outcomeDuplicate:
			run.Duplicates++
		case outcomeSkipped:
			run.Skipped++
		case outcomeError:
			run.Errors++
		}
	}

	run.Duration = s.now().Sub(now)
	if s.ScanRuns != nil {
		if err := s.ScanRuns.Record(ctx, run); err != nil {
			s.Logger.Error("scan run record failed", "error", err)
		}
	}
	s.Logger.Info("scan cycle finished",
		"source", s.Config.SourceTag,
		"scanned", run.Scanned,
		"queued", run.Queued,
		"duplicates", run.Duplicates,
		"skipped", run.Skipped,
		"errors", run.Errors,
		"duration", run.Duration)
	return run, nil
}

type outcome int

const (
	outcomeQueued outcome = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeQueued:
		return "queued"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeSkipped:
		return "skipped"
	default:
		return "error"
	}
}

func (s *Scanner) scanOne(ctx context.Context, f source.FileInfo) outcome {
	log := s.Logger.With("file", f.Name)

	if f.IsDir {
		return outcomeSkipped
	}
	if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(f.Name))]; !ok {
		log.Debug("skipping unsupported extension")
		return outcomeSkipped
	}
	// A file still being uploaded has a fresh mtime. Leave it for the next
	// cycle.
	if age := s.now().Sub(f.ModTime); age < s.Config.MinFileAge {
		log.Debug("skipping too-new file", "age", age)
		return outcomeSkipped
	}

	pending, err := s.hasPendingByName(ctx, f.Name)
	if err != nil {
		log.Error("pending check failed", "error", err)
		return outcomeError
	}
	if pending {
		log.Debug("skipping file with pending job")
		return outcomeSkipped
	}

	if s.Source.Kind() == "local" {
		return s.promoteLocal(ctx, f, log)
	}
	return s.promoteRemote(ctx, f, log)
}

// promoteLocal hashes the file in place and enqueues it straight onto the
// invoice-import queue, creating its document record first.
func (s *Scanner) promoteLocal(ctx context.Context, f source.FileInfo, log *slog.Logger) outcome {
	rc, err := s.Source.Open(ctx, f.Path)
	if err != nil {
		log.Error("open failed", "error", err)
		s.routeFailed(ctx, f.Path, err)
		return outcomeError
	}
	digest, err := HashReader(rc)
	_ = rc.Close()
	if err != nil {
		log.Error("hash failed", "error", err)
		s.routeFailed(ctx, f.Path, err)
		return outcomeError
	}

	if pending, err := s.Queue.HasPending(ctx, constants.QueueInvoiceImport, digest); err != nil {
		log.Error("pending digest check failed", "error", err)
		return outcomeError
	} else if pending {
		log.Debug("skipping file with pending digest", "digest", digest)
		return outcomeSkipped
	}

	isDup, original, err := s.Dedup.Check(ctx, digest)
	if err != nil {
		log.Error("dedup check failed", "error", err)
		return outcomeError
	}
	if isDup {
		return s.recordDuplicate(ctx, f, digest, original, log)
	}

	rec := &repository.DocumentRecord{
		ContentDigest: digest,
		FileName:      f.Name,
		SourceTag:     s.Config.SourceTag,
		Status:        constants.DocStatusProcessing,
		Location:      f.Path,
	}
	if err := s.Docs.Create(ctx, rec); err != nil {
		log.Error("document record create failed", "error", err)
		return outcomeError
	}

	payload := queue.InvoiceImportPayload{
		FilePath:      f.Path,
		FileName:      f.Name,
		SourceTag:     s.Config.SourceTag,
		ContentDigest: digest,
	}
	_, err = s.Queue.EnqueueJSON(ctx, constants.QueueInvoiceImport, f.Name, payload,
		queue.WithDedupKey(digest), queue.WithFileKey(f.Name))
	if err != nil {
		log.Error("enqueue failed", "error", err)
		return outcomeError
	}
	log.Info("file queued for import", "digest", digest)
	return outcomeQueued
}

// promoteRemote enqueues a download job; hashing and dedup happen after the
// file lands in staging.
func (s *Scanner) promoteRemote(ctx context.Context, f source.FileInfo, log *slog.Logger) outcome {
	payload := queue.FileImportPayload{
		FileName:          f.Name,
		RemoteOrLocalPath: f.Path,
		SourceConfig:      s.Source.Kind(),
		FTPFolder:         s.Config.UnprocessedDir,
	}
	_, err := s.Queue.EnqueueJSON(ctx, constants.QueueFileImport, f.Name, payload,
		queue.WithFileKey(f.Name))
	if err != nil {
		log.Error("enqueue failed", "error", err)
		return outcomeError
	}
	log.Info("remote file queued for download")
	return outcomeQueued
}

func (s *Scanner) recordDuplicate(ctx context.Context, f source.FileInfo, digest string, original *repository.DocumentRecord, log *slog.Logger) outcome {
	rec := &repository.DocumentRecord{
		ContentDigest: digest,
		FileName:      f.Name,
		SourceTag:     s.Config.SourceTag,
		Status:        constants.DocStatusDuplicate,
		DuplicateOfID: &original.ID,
	}
	if err := s.Docs.Create(ctx, rec); err != nil {
		log.Error("duplicate record create failed", "error", err)
		return outcomeError
	}
	dest, err := s.Router.Route(ctx, f.Path, constants.TerminalDuplicate)
	if err != nil {
		log.Error("duplicate routing failed", "error", err)
		return outcomeError
	}
	if err := s.Docs.UpdateLocation(ctx, rec.ID, dest); err != nil {
		log.Error("duplicate location update failed", "error", err)
	}
	log.Info("duplicate detected", "digest", digest, "original_id", original.ID)
	return outcomeDuplicate
}

// hasPendingByName checks both import queues so a file seen mid-flight is
// not enqueued twice.
func (s *Scanner) hasPendingByName(ctx context.Context, name string) (bool, error) {
	for _, q := range []string{constants.QueueFileImport, constants.QueueInvoiceImport} {
		pending, err := s.Queue.HasPending(ctx, q, name)
		if err != nil {
			return false, err
		}
		if pending {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scanner) routeFailed(ctx context.Context, path string, cause error) {
	if _, err := s.Router.RouteFailed(ctx, path, cause); err != nil {
		s.Logger.Error("failed routing failed", "path", path, "error", err)
	}
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
