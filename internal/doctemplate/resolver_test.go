package doctemplate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/constants"
)

func tpl(name string, docType constants.DocumentType, kind constants.FileKind, isDefault bool, priority int) *Template {
	return &Template{
		Name:         name,
		DocumentType: docType,
		FileKind:     kind,
		IsDefault:    isDefault,
		Enabled:      true,
		Priority:     priority,
	}
}

func TestResolvePrefersMatchingDefault(t *testing.T) {
	store := NewMemoryStore()
	store.Put(tpl("default-invoice", constants.DocTypeInvoice, constants.FileKindPDF, true, 0))
	store.Put(tpl("special-invoice", constants.DocTypeInvoice, constants.FileKindPDF, false, 10))

	got, warnings, err := NewResolver(store, nil).Resolve(context.Background(), constants.FileKindPDF, constants.DocTypeInvoice)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "default-invoice", got.Name)
	assert.Empty(t, warnings)
}

func TestResolveRejectsMismatchedDefault(t *testing.T) {
	store := NewMemoryStore()
	store.Put(tpl("default-invoice", constants.DocTypeInvoice, constants.FileKindPDF, true, 0))
	store.Put(tpl("credit-layout", constants.DocTypeCreditNote, constants.FileKindPDF, false, 0))

	got, warnings, err := NewResolver(store, nil).Resolve(context.Background(), constants.FileKindPDF, constants.DocTypeCreditNote)
	require.NoError(t, err)
	require.NotNil(t, got)
	// The mismatching default is never silently substituted.
	assert.Equal(t, "credit-layout", got.Name)
	assert.Equal(t, constants.DocTypeCreditNote, got.DocumentType)
	assert.NotEmpty(t, warnings)
}

func TestResolveNeverReturnsWrongTypeWhenExactExists(t *testing.T) {
	// For every template of the requested type in the store, the resolved
	// template's type must equal the request.
	kinds := []constants.FileKind{constants.FileKindPDF, constants.FileKindSpreadsheet}
	types := []constants.DocumentType{constants.DocTypeInvoice, constants.DocTypeCreditNote, constants.DocTypeStatement}

	store := NewMemoryStore()
	for _, k := range kinds {
		for _, dt := range types {
			store.Put(tpl(string(k)+"/"+string(dt), dt, k, false, 0))
		}
	}
	r := NewResolver(store, nil)
	for _, k := range kinds {
		for _, dt := range types {
			got, _, err := r.Resolve(context.Background(), k, dt)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, dt, got.DocumentType, "kind=%s type=%s", k, dt)
		}
	}
}

func TestResolvePDFFallsBackToDefaultInvoice(t *testing.T) {
	store := NewMemoryStore()
	store.Put(tpl("default-invoice", constants.DocTypeInvoice, constants.FileKindPDF, true, 0))

	got, warnings, err := NewResolver(store, nil).Resolve(context.Background(), constants.FileKindPDF, constants.DocTypeStatement)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "default-invoice", got.Name)
	assert.NotEmpty(t, warnings)
}

func TestResolveSpreadsheetDoesNotUseInvoiceFallback(t *testing.T) {
	store := NewMemoryStore()
	store.Put(tpl("default-invoice", constants.DocTypeInvoice, constants.FileKindSpreadsheet, true, 0))
	store.Put(tpl("other", constants.DocTypeInvoice, constants.FileKindSpreadsheet, false, 5))

	got, warnings, err := NewResolver(store, nil).Resolve(context.Background(), constants.FileKindSpreadsheet, constants.DocTypeStatement)
	require.NoError(t, err)
	require.NotNil(t, got)
	// Falls through to step (d): highest priority enabled template.
	assert.Equal(t, "other", got.Name)
	assert.NotEmpty(t, warnings)
}

func TestResolveNilWhenNothingEnabled(t *testing.T) {
	store := NewMemoryStore()
	disabled := tpl("off", constants.DocTypeInvoice, constants.FileKindPDF, true, 0)
	disabled.Enabled = false
	store.Put(disabled)

	got, warnings, err := NewResolver(store, nil).Resolve(context.Background(), constants.FileKindPDF, constants.DocTypeInvoice)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotEmpty(t, warnings)
}

func TestPutUnsetsSiblingDefaults(t *testing.T) {
	store := NewMemoryStore()
	first := tpl("first", constants.DocTypeInvoice, constants.FileKindPDF, true, 0)
	second := tpl("second", constants.DocTypeInvoice, constants.FileKindPDF, true, 0)
	store.Put(first)
	store.Put(second)

	list, err := store.ListEnabled(context.Background(), constants.FileKindPDF)
	require.NoError(t, err)
	defaults := 0
	for _, tmpl := range list {
		if tmpl.IsDefault {
			defaults++
			assert.Equal(t, "second", tmpl.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}
