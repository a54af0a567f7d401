package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/extract"
)

// MemoryStores is the in-memory implementation of every store, used by
// tests and the batch CLI.
type MemoryStores struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]*DocumentRecord
	companies map[uuid.UUID]*Company
	bizDocs   map[uuid.UUID]*BusinessDocument
	scanRuns  []*ScanRun

	DeliveryLogs *MemoryDeliveryLogs
}

func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		documents:    make(map[uuid.UUID]*DocumentRecord),
		companies:    make(map[uuid.UUID]*Company),
		bizDocs:      make(map[uuid.UUID]*BusinessDocument),
		DeliveryLogs: NewMemoryDeliveryLogs(),
	}
}

// Bundle exposes the memory stores through the Stores aggregate.
func (m *MemoryStores) Bundle() Stores {
	return Stores{
		Documents:    m,
		Companies:    m,
		BusinessDocs: m,
		Deliveries:   m.DeliveryLogs,
		ScanRuns:     m,
	}
}

// --- DocumentStore ---

func (m *MemoryStores) Create(_ context.Context, rec *DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	m.documents[rec.ID] = &cp
	return nil
}

func (m *MemoryStores) GetByID(_ context.Context, id uuid.UUID) (*DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.documents[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStores) FindByDigest(_ context.Context, digest string) (*DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *DocumentRecord
	for _, rec := range m.documents {
		if rec.ContentDigest != digest {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (m *MemoryStores) UpdateStatus(_ context.Context, id uuid.UUID, status constants.DocumentStatus, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.documents[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.Status = status
	rec.FailureReason = failureReason
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStores) SetMatched(_ context.Context, id uuid.UUID, companyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.documents[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.MatchedEntityID = &companyID
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStores) AttachExtraction(_ context.Context, id uuid.UUID, res *extract.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.documents[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.Extraction = res
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStores) UpdateLocation(_ context.Context, id uuid.UUID, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.documents[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.Location = location
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// SoftDelete marks a record deleted at the given time; tests use it to
// exercise the retention window.
func (m *MemoryStores) SoftDelete(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.documents[id]; ok {
		rec.DeletedAt = &at
	}
}

// --- CompanyStore ---

// AddCompany seeds a company.
func (m *MemoryStores) AddCompany(c *Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.companies[c.ID] = c
}

func (m *MemoryStores) FindByReference(_ context.Context, ref string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.TrimSpace(ref)
	for _, c := range m.companies {
		if strings.TrimSpace(c.ReferenceNumber) == want {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// --- BusinessDocumentStore ---

func (m *MemoryStores) Upsert(_ context.Context, doc *BusinessDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bizDocs {
		if existing.DocumentID == doc.DocumentID {
			doc.ID = existing.ID
			m.bizDocs[existing.ID] = doc
			return nil
		}
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now().UTC()
	m.bizDocs[doc.ID] = doc
	return nil
}

// BusinessDocuments lists all business documents, for tests.
func (m *MemoryStores) BusinessDocuments() []*BusinessDocument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*BusinessDocument, 0, len(m.bizDocs))
	for _, d := range m.bizDocs {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// --- DeliveryLogStore ---

// MemoryDeliveryLogs keeps delivery logs separate from the other aggregates
// so method sets stay unambiguous.
type MemoryDeliveryLogs struct {
	mu   sync.RWMutex
	logs map[uuid.UUID]*DeliveryLog
}

func NewMemoryDeliveryLogs() *MemoryDeliveryLogs {
	return &MemoryDeliveryLogs{logs: make(map[uuid.UUID]*DeliveryLog)}
}

func (m *MemoryDeliveryLogs) Get(_ context.Context, id uuid.UUID) (*DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *log
	return &cp, nil
}

func (m *MemoryDeliveryLogs) Create(_ context.Context, log *DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	cp := *log
	m.logs[log.ID] = &cp
	return nil
}

func (m *MemoryDeliveryLogs) MarkSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return common.ErrNotFound
	}
	log.Status = constants.DeliverySent
	log.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryDeliveryLogs) MarkFailedPermanent(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return common.ErrNotFound
	}
	log.Status = constants.DeliveryFailedPermanent
	log.Reason = reason
	log.UpdatedAt = time.Now().UTC()
	return nil
}

// --- ScanRunStore ---

func (m *MemoryStores) Record(_ context.Context, run *ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	cp := *run
	m.scanRuns = append(m.scanRuns, &cp)
	return nil
}

// ScanRuns lists recorded runs, for tests.
func (m *MemoryStores) ScanRuns() []*ScanRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ScanRun, len(m.scanRuns))
	copy(out, m.scanRuns)
	return out
}
