package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/extract"
)

// PostgresStores implements every store over a pgx pool. Dedup correctness
// under concurrent scans relies on the unique index on
// documents(content_digest) WHERE deleted_at IS NULL.
type PostgresStores struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStores(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStores {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStores{pool: pool, logger: logger}
}

// Bundle exposes the postgres stores through the Stores aggregate.
func (p *PostgresStores) Bundle() Stores {
	return Stores{
		Documents:    &pgDocuments{p},
		Companies:    &pgCompanies{p},
		BusinessDocs: &pgBusinessDocs{p},
		Deliveries:   &pgDeliveries{p},
		ScanRuns:     &pgScanRuns{p},
	}
}

// --- documents ---

type pgDocuments struct{ *PostgresStores }

const documentColumns = `id, content_digest, file_name, source_tag, status, failure_reason,
	matched_entity_id, duplicate_of_id, extraction, location, created_at, updated_at, deleted_at`

func (r *pgDocuments) Create(ctx context.Context, rec *DocumentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	var extraction []byte
	if rec.Extraction != nil {
		var err error
		extraction, err = json.Marshal(rec.Extraction)
		if err != nil {
			return fmt.Errorf("marshal extraction: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, content_digest, file_name, source_tag, status, failure_reason,
			matched_entity_id, duplicate_of_id, extraction, location, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.ContentDigest, rec.FileName, rec.SourceTag, rec.Status, rec.FailureReason,
		rec.MatchedEntityID, rec.DuplicateOfID, extraction, rec.Location, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create document record", "file_name", rec.FileName, "error", err)
		return err
	}
	return nil
}

func (r *pgDocuments) GetByID(ctx context.Context, id uuid.UUID) (*DocumentRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	rec, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return rec, err
}

func (r *pgDocuments) FindByDigest(ctx context.Context, digest string) (*DocumentRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE content_digest = $1
		ORDER BY created_at DESC LIMIT 1`, digest)
	rec, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *pgDocuments) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, failureReason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1`, id, status, failureReason)
	if err != nil {
		r.logger.Error("failed to update document status", "id", id, "status", status, "error", err)
	}
	return err
}

func (r *pgDocuments) SetMatched(ctx context.Context, id uuid.UUID, companyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET matched_entity_id = $2, updated_at = now()
		WHERE id = $1`, id, companyID)
	return err
}

func (r *pgDocuments) AttachExtraction(ctx context.Context, id uuid.UUID, res *extract.Result) error {
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal extraction: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE documents SET extraction = $2, updated_at = now()
		WHERE id = $1`, id, blob)
	return err
}

func (r *pgDocuments) UpdateLocation(ctx context.Context, id uuid.UUID, location string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET location = $2, updated_at = now()
		WHERE id = $1`, id, location)
	return err
}

type documentRow interface {
	Scan(dest ...any) error
}

func scanDocument(row documentRow) (*DocumentRecord, error) {
	var (
		rec        DocumentRecord
		extraction []byte
	)
	err := row.Scan(&rec.ID, &rec.ContentDigest, &rec.FileName, &rec.SourceTag, &rec.Status,
		&rec.FailureReason, &rec.MatchedEntityID, &rec.DuplicateOfID, &extraction,
		&rec.Location, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(extraction) > 0 {
		var res extract.Result
		if err := json.Unmarshal(extraction, &res); err != nil {
			return nil, fmt.Errorf("unmarshal extraction: %w", err)
		}
		rec.Extraction = &res
	}
	return &rec, nil
}

// --- companies ---

type pgCompanies struct{ *PostgresStores }

func (r *pgCompanies) FindByReference(ctx context.Context, ref string) (*Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, reference_number FROM companies
		WHERE btrim(reference_number) = btrim($1)`, ref).
		Scan(&c.ID, &c.Name, &c.ReferenceNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to find company by reference", "error", err)
		return nil, err
	}
	return &c, nil
}

// --- business documents ---

type pgBusinessDocs struct{ *PostgresStores }

func (r *pgBusinessDocs) Upsert(ctx context.Context, doc *BusinessDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_documents (id, company_id, document_id, type, number, issued_at, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (document_id) DO UPDATE
		SET company_id = EXCLUDED.company_id, type = EXCLUDED.type,
		    number = EXCLUDED.number, issued_at = EXCLUDED.issued_at, amount = EXCLUDED.amount`,
		doc.ID, doc.CompanyID, doc.DocumentID, doc.Type, doc.Number, doc.IssuedAt, doc.Amount)
	if err != nil {
		r.logger.Error("failed to upsert business document", "document_id", doc.DocumentID, "error", err)
	}
	return err
}

// --- delivery logs ---

type pgDeliveries struct{ *PostgresStores }

func (r *pgDeliveries) Get(ctx context.Context, id uuid.UUID) (*DeliveryLog, error) {
	var log DeliveryLog
	err := r.pool.QueryRow(ctx, `
		SELECT id, recipients, subject, status, reason, updated_at
		FROM delivery_logs WHERE id = $1`, id).
		Scan(&log.ID, &log.Recipients, &log.Subject, &log.Status, &log.Reason, &log.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *pgDeliveries) Create(ctx context.Context, log *DeliveryLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_logs (id, recipients, subject, status, reason, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		log.ID, log.Recipients, log.Subject, log.Status, log.Reason)
	return err
}

func (r *pgDeliveries) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_logs SET status = $2, updated_at = now() WHERE id = $1`,
		id, constants.DeliverySent)
	return err
}

func (r *pgDeliveries) MarkFailedPermanent(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_logs SET status = $2, reason = $3, updated_at = now() WHERE id = $1`,
		id, constants.DeliveryFailedPermanent, reason)
	return err
}

// --- scan runs ---

type pgScanRuns struct{ *PostgresStores }

func (r *pgScanRuns) Record(ctx context.Context, run *ScanRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scan_runs (id, source_name, scanned, queued, duplicates, skipped, errors, started_at, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.SourceName, run.Scanned, run.Queued, run.Duplicates, run.Skipped, run.Errors,
		run.StartedAt, run.Duration.Milliseconds())
	if err != nil {
		r.logger.Error("failed to record scan run", "source", run.SourceName, "error", err)
	}
	return err
}
