// Package pipeline wires the extraction stages into queue job handlers:
// download, classify, resolve, extract, score, match, route.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/classify"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/confidence"
	"github.com/docflowhq/docflow/internal/dedup"
	"github.com/docflowhq/docflow/internal/doctemplate"
	"github.com/docflowhq/docflow/internal/extract"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/match"
	"github.com/docflowhq/docflow/internal/metrics"
	"github.com/docflowhq/docflow/internal/queue"
	"github.com/docflowhq/docflow/internal/repository"
	"github.com/docflowhq/docflow/internal/router"
	"github.com/docflowhq/docflow/internal/source"
)

// Config carries the processor's operational knobs.
type Config struct {
	UnprocessedDir string // remote drop folder, used to rebuild remote paths
	StagingDir     string // local landing area for downloaded files
	NotifyEmail    string // optional alert recipient for unallocated documents
}

// Processor owns the job handlers for the import queues.
type Processor struct {
	Stores    repository.Stores
	Source    source.Source
	Resolver  *doctemplate.Resolver
	Extractor *extract.Extractor
	Dedup     *dedup.Index
	Matcher   *match.Matcher
	Router    *router.Router
	Cache     *extract.LayoutCache
	Queue     ingest.Enqueuer
	Batches   *BatchManager
	Logger    *slog.Logger
	Config    Config
}

// HandleFileImport downloads one remote file into staging, hashes it during
// the transfer, and hands it to the invoice-import queue. Duplicates are
// forwarded with the duplicate flag so record keeping happens in one place.
func (p *Processor) HandleFileImport(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodePayload[queue.FileImportPayload](job.Payload)
	if err != nil {
		return common.Unrecoverable(err)
	}
	log := p.Logger.With("file", payload.FileName, "job_id", job.ID)

	if p.Batches.IsCancelled(job.BatchID) {
		log.Info("batch cancelled, skipping download")
		return nil
	}

	stagedPath, digest, err := p.download(ctx, payload, job.BatchID)
	if err != nil {
		return fmt.Errorf("download %s: %w", payload.FileName, err)
	}
	log = log.With("digest", digest)

	if p.Batches.IsCancelled(job.BatchID) {
		_ = os.Remove(stagedPath)
		log.Info("batch cancelled after download, discarding")
		return nil
	}

	next := queue.InvoiceImportPayload{
		FilePath:      stagedPath,
		FileName:      payload.FileName,
		ImportBatchID: job.BatchID,
		SourceTag:     payload.SourceConfig,
		ContentDigest: digest,
	}
	isDup, original, err := p.Dedup.Check(ctx, digest)
	if err != nil {
		return err
	}
	if isDup {
		next.IsDuplicate = true
		next.DuplicateOfID = original.ID.String()
	}

	opts := []queue.JobOption{queue.WithDedupKey(digest), queue.WithFileKey(payload.FileName)}
	if job.BatchID != "" {
		opts = append(opts, queue.WithBatchID(job.BatchID))
	}
	if _, err := p.Queue.EnqueueJSON(ctx, constants.QueueInvoiceImport, payload.FileName, next, opts...); err != nil {
		return err
	}
	log.Info("file staged for import", "staged", stagedPath, "duplicate", isDup)
	return nil
}

// download streams the remote file to staging while hashing it.
func (p *Processor) download(ctx context.Context, payload queue.FileImportPayload, batchID string) (string, string, error) {
	rc, err := p.Source.Open(ctx, payload.RemoteOrLocalPath)
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	dir := p.Batches.StagingDir(batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	stagedPath := filepath.Join(dir, payload.FileName)
	out, err := os.Create(stagedPath)
	if err != nil {
		return "", "", err
	}
	digest, err := ingest.HashReader(io.TeeReader(rc, out))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(stagedPath)
		return "", "", err
	}
	return stagedPath, digest, nil
}

// HandleInvoiceImport runs one file through the full extraction pipeline.
// Data-quality outcomes (no template, no match) land as document status, not
// errors; only infrastructure failures return an error for retry.
func (p *Processor) HandleInvoiceImport(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodePayload[queue.InvoiceImportPayload](job.Payload)
	if err != nil {
		return common.Unrecoverable(err)
	}
	log := p.Logger.With("file", payload.FileName, "job_id", job.ID)

	if p.Batches.IsCancelled(payload.ImportBatchID) {
		p.discardStaged(payload)
		log.Info("batch cancelled, skipping import")
		return nil
	}

	if payload.IsDuplicate {
		return p.importDuplicate(ctx, payload, log)
	}

	rec, err := p.ensureRecord(ctx, payload)
	if err != nil {
		return err
	}
	log = log.With("document_id", rec.ID)

	res, docType, err := p.extractDocument(ctx, payload, log)
	if err != nil {
		// Deterministic parse failure: retrying the same bytes cannot
		// succeed, so record it and route the file out.
		if uerr := p.Stores.Documents.UpdateStatus(ctx, rec.ID, constants.DocStatusFailed, err.Error()); uerr != nil {
			return uerr
		}
		dest, rerr := p.Router.RouteFailed(ctx, p.sourcePath(payload), err)
		if rerr != nil {
			return rerr
		}
		p.finishFile(ctx, rec.ID, payload, dest, log)
		metrics.DocumentsProcessed.WithLabelValues(string(constants.DocStatusFailed)).Inc()
		log.Warn("document failed to parse", "error", err)
		return nil
	}

	if err := p.Stores.Documents.AttachExtraction(ctx, rec.ID, res); err != nil {
		return err
	}

	company, err := p.Matcher.Match(ctx, rec, res, docType)
	if err != nil {
		return err
	}
	if company != nil {
		if err := p.Stores.Documents.SetMatched(ctx, rec.ID, company.ID); err != nil {
			return err
		}
		if err := p.Stores.Documents.UpdateStatus(ctx, rec.ID, constants.DocStatusParsed, ""); err != nil {
			return err
		}
		metrics.DocumentsProcessed.WithLabelValues(string(constants.DocStatusParsed)).Inc()
		log.Info("document parsed and matched",
			"company_id", company.ID, "type", docType, "confidence", res.Confidence)
	} else {
		// Parsing succeeded, matching did not. Queryable status, not a
		// failure.
		if err := p.Stores.Documents.UpdateStatus(ctx, rec.ID, constants.DocStatusUnallocated, constants.FailureReasonNoMatch); err != nil {
			return err
		}
		metrics.DocumentsProcessed.WithLabelValues(string(constants.DocStatusUnallocated)).Inc()
		log.Info("document unallocated", "type", docType, "confidence", res.Confidence)
		p.notifyUnallocated(ctx, payload, log)
	}

	dest, err := p.Router.Route(ctx, p.sourcePath(payload), constants.TerminalProcessed)
	if err != nil {
		return err
	}
	p.finishFile(ctx, rec.ID, payload, dest, log)
	return nil
}

// importDuplicate records the duplicate and routes the file to the
// duplicates folder.
func (p *Processor) importDuplicate(ctx context.Context, payload queue.InvoiceImportPayload, log *slog.Logger) error {
	rec := &repository.DocumentRecord{
		ContentDigest: payload.ContentDigest,
		FileName:      payload.FileName,
		SourceTag:     payload.SourceTag,
		Status:        constants.DocStatusDuplicate,
	}
	if id, err := uuid.Parse(payload.DuplicateOfID); err == nil {
		rec.DuplicateOfID = &id
	}
	if err := p.Stores.Documents.Create(ctx, rec); err != nil {
		return err
	}
	dest, err := p.Router.Route(ctx, p.sourcePath(payload), constants.TerminalDuplicate)
	if err != nil {
		return err
	}
	p.finishFile(ctx, rec.ID, payload, dest, log)
	metrics.DocumentsProcessed.WithLabelValues(string(constants.DocStatusDuplicate)).Inc()
	log.Info("duplicate recorded", "original_id", payload.DuplicateOfID)
	return nil
}

// ensureRecord finds the processing record created at scan time, or creates
// one for files that arrived through the download queue.
func (p *Processor) ensureRecord(ctx context.Context, payload queue.InvoiceImportPayload) (*repository.DocumentRecord, error) {
	if payload.ContentDigest != "" {
		rec, err := p.Stores.Documents.FindByDigest(ctx, payload.ContentDigest)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.DeletedAt == nil {
			return rec, nil
		}
	}
	rec := &repository.DocumentRecord{
		ContentDigest: payload.ContentDigest,
		FileName:      payload.FileName,
		SourceTag:     payload.SourceTag,
		Status:        constants.DocStatusProcessing,
		Location:      payload.FilePath,
	}
	if err := p.Stores.Documents.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Processor) extractDocument(ctx context.Context, payload queue.InvoiceImportPayload, log *slog.Logger) (*extract.Result, constants.DocumentType, error) {
	doc, err := extract.Open(payload.FilePath, payload.ContentDigest, p.Cache)
	if err != nil {
		return nil, "", err
	}
	defer doc.Close()
	defer p.Cache.Evict(payload.ContentDigest)

	raw, err := doc.RawText(ctx)
	if err != nil {
		return nil, "", err
	}
	docType := classify.Classify(raw)

	tpl, warnings, err := p.Resolver.Resolve(ctx, doc.Kind(), docType)
	if err != nil {
		return nil, "", err
	}

	res, err := p.Extractor.Extract(ctx, doc, tpl, docType)
	if err != nil {
		return nil, "", err
	}
	res.Warnings = append(warnings, res.Warnings...)
	res.Confidence = confidence.Score(res, tpl, nil)
	metrics.ExtractionConfidence.Observe(float64(res.Confidence))
	log.Debug("extraction finished",
		"method", res.Method, "fields", len(res.Fields), "confidence", res.Confidence)
	return res, docType, nil
}

// sourcePath is the path the router should move: the file's place on the
// source for local imports, or its remote origin for staged downloads.
func (p *Processor) sourcePath(payload queue.InvoiceImportPayload) string {
	if p.isRemote() {
		return path.Join(p.Config.UnprocessedDir, payload.FileName)
	}
	return payload.FilePath
}

func (p *Processor) isRemote() bool { return p.Source.Kind() != "local" }

// finishFile persists the routed location and clears the staged copy.
func (p *Processor) finishFile(ctx context.Context, id uuid.UUID, payload queue.InvoiceImportPayload, dest string, log *slog.Logger) {
	if err := p.Stores.Documents.UpdateLocation(ctx, id, dest); err != nil {
		log.Error("location update failed", "error", err)
	}
	p.discardStaged(payload)
}

func (p *Processor) discardStaged(payload queue.InvoiceImportPayload) {
	if p.isRemote() && payload.FilePath != "" {
		_ = os.Remove(payload.FilePath)
	}
}

// notifyUnallocated enqueues an alert email when one is configured.
func (p *Processor) notifyUnallocated(ctx context.Context, payload queue.InvoiceImportPayload, log *slog.Logger) {
	if p.Config.NotifyEmail == "" {
		return
	}
	dl := &repository.DeliveryLog{
		Recipients: []string{p.Config.NotifyEmail},
		Subject:    fmt.Sprintf("Unallocated document: %s", payload.FileName),
		Status:     constants.DeliveryPending,
	}
	if err := p.Stores.Deliveries.Create(ctx, dl); err != nil {
		log.Error("delivery log create failed", "error", err)
		return
	}
	email := queue.EmailPayload{
		DeliveryLogID: dl.ID.String(),
		Recipients:    dl.Recipients,
		Subject:       dl.Subject,
		Body: fmt.Sprintf("Document %q imported at %s did not match any company account number.",
			payload.FileName, time.Now().UTC().Format(time.RFC3339)),
	}
	if _, err := p.Queue.EnqueueJSON(ctx, constants.QueueEmail, dl.Subject, email); err != nil {
		log.Error("email enqueue failed", "error", err)
	}
}

// HandleBulkParsingTest runs a file through classification and extraction
// only, logging the outcome. No records, no routing: it exists to try
// template changes against real files.
func (p *Processor) HandleBulkParsingTest(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodePayload[queue.BulkParsingPayload](job.Payload)
	if err != nil {
		return common.Unrecoverable(err)
	}
	log := p.Logger.With("file", payload.FileName)

	f, err := os.Open(payload.FilePath)
	if err != nil {
		return common.Unrecoverable(err)
	}
	digest, err := ingest.HashReader(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	res, docType, err := p.extractDocument(ctx, queue.InvoiceImportPayload{
		FilePath:      payload.FilePath,
		FileName:      payload.FileName,
		ContentDigest: digest,
	}, log)
	if err != nil {
		log.Error("parsing test failed", "error", err)
		return common.Unrecoverable(err)
	}
	log.Info("parsing test finished",
		"type", docType,
		"method", res.Method,
		"confidence", res.Confidence,
		"fields", res.Fields,
		"warnings", res.Warnings)
	return nil
}
