// Package match links extracted documents to business entities by account
// number and creates the corresponding business-document records.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/extract"
	"github.com/docflowhq/docflow/internal/repository"
)

// numberPrefix maps document types to placeholder number prefixes.
var numberPrefix = map[constants.DocumentType]string{
	constants.DocTypeInvoice:    "INV",
	constants.DocTypeCreditNote: "CRN",
	constants.DocTypeStatement:  "STM",
}

// Matcher resolves companies by reference number and upserts business
// documents for matched records.
type Matcher struct {
	Companies repository.CompanyStore
	BizDocs   repository.BusinessDocumentStore
	Logger    *slog.Logger
}

func NewMatcher(companies repository.CompanyStore, bizDocs repository.BusinessDocumentStore, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{Companies: companies, BizDocs: bizDocs, Logger: logger}
}

// Match looks up the company for the extracted account number. A nil company
// with nil error means no match, which is a document status, not a failure.
// On match the linked business document is created or updated.
func (m *Matcher) Match(ctx context.Context, doc *repository.DocumentRecord, res *extract.Result, docType constants.DocumentType) (*repository.Company, error) {
	account, ok := extract.LookupFuzzy(res.Fields, extract.FieldAccountNumber)
	if !ok || strings.TrimSpace(account) == "" {
		m.Logger.Info("no account number extracted", "document_id", doc.ID)
		return nil, nil
	}

	company, err := m.Companies.FindByReference(ctx, strings.TrimSpace(account))
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		m.Logger.Info("no company matched account number", "document_id", doc.ID, "account", account)
		return nil, nil
	}

	biz := &repository.BusinessDocument{
		CompanyID:  company.ID,
		DocumentID: doc.ID,
		Type:       docType,
		Number:     documentNumber(res, docType),
		IssuedAt:   issuedAt(res),
		Amount:     amount(res),
	}
	if err := m.BizDocs.Upsert(ctx, biz); err != nil {
		return nil, fmt.Errorf("upsert business document: %w", err)
	}

	m.Logger.Info("document matched to company",
		"document_id", doc.ID, "company_id", company.ID, "number", biz.Number, "type", docType)
	return company, nil
}

// documentNumber prefers the extracted number and falls back to a generated
// {PREFIX}-{timestamp}-{shortId} placeholder.
func documentNumber(res *extract.Result, docType constants.DocumentType) string {
	for _, name := range []string{numberFieldFor(docType), extract.FieldInvoiceNumber} {
		if v, ok := extract.LookupFuzzy(res.Fields, name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	prefix := numberPrefix[docType]
	if prefix == "" {
		prefix = "DOC"
	}
	shortID := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().Unix(), shortID)
}

func numberFieldFor(docType constants.DocumentType) string {
	switch docType {
	case constants.DocTypeCreditNote:
		return "credit_note_number"
	case constants.DocTypeStatement:
		return "statement_number"
	default:
		return extract.FieldInvoiceNumber
	}
}

func issuedAt(res *extract.Result) time.Time {
	if v, ok := extract.LookupFuzzy(res.Fields, extract.FieldInvoiceDate); ok {
		if t, err := time.Parse("2006-01-02", strings.TrimSpace(v)); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func amount(res *extract.Result) string {
	v, _ := extract.LookupFuzzy(res.Fields, extract.FieldTotalAmount)
	return v
}
