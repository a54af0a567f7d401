package match

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/extract"
	"github.com/docflowhq/docflow/internal/repository"
)

func newFixture(t *testing.T) (*Matcher, *repository.MemoryStores, *repository.DocumentRecord) {
	t.Helper()
	stores := repository.NewMemoryStores()
	doc := &repository.DocumentRecord{FileName: "inv.pdf", Status: constants.DocStatusProcessing}
	require.NoError(t, stores.Create(context.Background(), doc))
	return NewMatcher(stores, stores, nil), stores, doc
}

func TestMatchNoAccountNumberIsNotAnError(t *testing.T) {
	m, stores, doc := newFixture(t)
	res := &extract.Result{Fields: map[string]string{"invoice_number": "INV-1"}}

	company, err := m.Match(context.Background(), doc, res, constants.DocTypeInvoice)
	require.NoError(t, err)
	assert.Nil(t, company)
	assert.Empty(t, stores.BusinessDocuments())
}

func TestMatchUnknownAccountIsNotAnError(t *testing.T) {
	m, stores, doc := newFixture(t)
	res := &extract.Result{Fields: map[string]string{"account_number": "99999"}}

	company, err := m.Match(context.Background(), doc, res, constants.DocTypeInvoice)
	require.NoError(t, err)
	assert.Nil(t, company)
	assert.Empty(t, stores.BusinessDocuments())
}

func TestMatchLinksCompanyAndCreatesBusinessDocument(t *testing.T) {
	m, stores, doc := newFixture(t)
	stores.AddCompany(&repository.Company{Name: "Acme", ReferenceNumber: "12345"})
	res := &extract.Result{Fields: map[string]string{
		"account_number": "12345",
		"invoice_number": "INV-2024-7",
		"invoice_date":   "2024-03-15",
		"total_amount":   "99.00",
	}}

	company, err := m.Match(context.Background(), doc, res, constants.DocTypeCreditNote)
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "Acme", company.Name)

	docs := stores.BusinessDocuments()
	require.Len(t, docs, 1)
	biz := docs[0]
	assert.Equal(t, company.ID, biz.CompanyID)
	assert.Equal(t, doc.ID, biz.DocumentID)
	assert.Equal(t, constants.DocTypeCreditNote, biz.Type)
	assert.Equal(t, "INV-2024-7", biz.Number) // falls back to the invoice number
	assert.Equal(t, "99.00", biz.Amount)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), biz.IssuedAt)
}

func TestMatchGeneratesPlaceholderNumber(t *testing.T) {
	m, stores, doc := newFixture(t)
	stores.AddCompany(&repository.Company{Name: "Acme", ReferenceNumber: "12345"})
	res := &extract.Result{Fields: map[string]string{"account_number": "12345"}}

	tests := []struct {
		docType constants.DocumentType
		prefix  string
	}{
		{constants.DocTypeInvoice, "INV-"},
		{constants.DocTypeCreditNote, "CRN-"},
		{constants.DocTypeStatement, "STM-"},
	}
	for _, tt := range tests {
		_, err := m.Match(context.Background(), doc, res, tt.docType)
		require.NoError(t, err)
		docs := stores.BusinessDocuments()
		last := docs[len(docs)-1]
		assert.True(t, strings.HasPrefix(last.Number, tt.prefix),
			"number %q should start with %q", last.Number, tt.prefix)
	}
}

func TestMatchTrimsAccountWhitespace(t *testing.T) {
	m, stores, doc := newFixture(t)
	stores.AddCompany(&repository.Company{Name: "Acme", ReferenceNumber: "12345"})
	res := &extract.Result{Fields: map[string]string{"account_number": "  12345  "}}

	company, err := m.Match(context.Background(), doc, res, constants.DocTypeInvoice)
	require.NoError(t, err)
	assert.NotNil(t, company)
}
