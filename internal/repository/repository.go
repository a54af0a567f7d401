// Package repository defines the persistence surface the pipeline consumes
// and produces. The relational layer itself is an external collaborator;
// these interfaces are its contract, with Postgres and in-memory
// implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/extract"
)

// DocumentRecord tracks one ingested file through the pipeline.
type DocumentRecord struct {
	ID              uuid.UUID
	ContentDigest   string
	FileName        string
	SourceTag       string
	Status          constants.DocumentStatus
	FailureReason   string
	MatchedEntityID *uuid.UUID
	DuplicateOfID   *uuid.UUID
	Extraction      *extract.Result
	Location        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time // soft delete, set by external retention policy
}

// Company is the business entity documents are matched against.
type Company struct {
	ID              uuid.UUID
	Name            string
	ReferenceNumber string
}

// BusinessDocument is the invoice/credit-note/statement record created when
// a document matches a company.
type BusinessDocument struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	DocumentID uuid.UUID
	Type       constants.DocumentType
	Number     string
	IssuedAt   time.Time
	Amount     string
	CreatedAt  time.Time
}

// DeliveryLog tracks one outbound notification.
type DeliveryLog struct {
	ID         uuid.UUID
	Recipients []string
	Subject    string
	Status     constants.DeliveryStatus
	Reason     string
	UpdatedAt  time.Time
}

// ScanRun records batch-level scan statistics for operational visibility.
type ScanRun struct {
	ID         uuid.UUID
	SourceName string
	Scanned    int
	Queued     int
	Duplicates int
	Skipped    int
	Errors     int
	StartedAt  time.Time
	Duration   time.Duration
}

// DocumentStore persists document records.
type DocumentStore interface {
	Create(ctx context.Context, rec *DocumentRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*DocumentRecord, error)
	// FindByDigest returns the most recent record with the digest, soft-deleted
	// included (the dedup index applies retention), or nil when none exists.
	FindByDigest(ctx context.Context, digest string) (*DocumentRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, failureReason string) error
	SetMatched(ctx context.Context, id uuid.UUID, companyID uuid.UUID) error
	AttachExtraction(ctx context.Context, id uuid.UUID, res *extract.Result) error
	UpdateLocation(ctx context.Context, id uuid.UUID, location string) error
}

// CompanyStore looks up business entities.
type CompanyStore interface {
	FindByReference(ctx context.Context, ref string) (*Company, error)
}

// BusinessDocumentStore persists matched business documents.
type BusinessDocumentStore interface {
	Upsert(ctx context.Context, doc *BusinessDocument) error
}

// DeliveryLogStore tracks notification delivery state for idempotent sends.
type DeliveryLogStore interface {
	Get(ctx context.Context, id uuid.UUID) (*DeliveryLog, error)
	Create(ctx context.Context, log *DeliveryLog) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailedPermanent(ctx context.Context, id uuid.UUID, reason string) error
}

// ScanRunStore records scan statistics.
type ScanRunStore interface {
	Record(ctx context.Context, run *ScanRun) error
}

// Stores bundles every aggregate the pipeline touches.
type Stores struct {
	Documents    DocumentStore
	Companies    CompanyStore
	BusinessDocs BusinessDocumentStore
	Deliveries   DeliveryLogStore
	ScanRuns     ScanRunStore
}
