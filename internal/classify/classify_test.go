package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docflowhq/docflow/constants"
)

func TestClassifyCreditNoteMarkers(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"phrase", "CREDIT NOTE\nOriginal invoice: INV-1001"},
		{"joined", "CreditNote #CN-442 for order 9912"},
		{"cn token", "Document CN 20240017\nTotal: 120.00"},
		{"co-occurring words", "We issue this credit against note ref 18, invoice 2231"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, constants.DocTypeCreditNote, Classify(tt.text))
		})
	}
}

func TestClassifyLowercaseCNIsNotACreditNote(t *testing.T) {
	// "cn" appears in domains and addresses; only the upper-case token
	// counts.
	got := Classify("billing@supplier.cn\ninvoice no: 4471")
	assert.Equal(t, constants.DocTypeInvoice, got)
}

func TestClassifyStatement(t *testing.T) {
	assert.Equal(t, constants.DocTypeStatement, Classify("Account Statement for March"))
	assert.Equal(t, constants.DocTypeStatement, Classify("STATEMENT OF ACCOUNT\nbalance carried forward"))
}

func TestClassifyCreditNoteBeatsInvoiceMention(t *testing.T) {
	// Credit notes reference the invoice they credit; the credit-note
	// marker must win.
	got := Classify("CREDIT NOTE\nrelating to tax invoice 5521")
	assert.Equal(t, constants.DocTypeCreditNote, got)
}

func TestClassifyDefaultsToInvoice(t *testing.T) {
	assert.Equal(t, constants.DocTypeInvoice, Classify("completely unrelated text"))
	assert.Equal(t, constants.DocTypeInvoice, Classify(""))
}
