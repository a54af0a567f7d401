package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenDispatchesCSV(t *testing.T) {
	path := writeCSV(t, "INVOICE,\nacct,ACC-1\nnumber,INV-42\n")

	doc, err := Open(path, "digest-1", nil)
	require.NoError(t, err)
	defer doc.Close()

	_, isCSV := doc.(*CSVDocument)
	assert.True(t, isCSV)
	assert.Equal(t, "digest-1", doc.Fingerprint())
}

func TestCSVCellReads(t *testing.T) {
	doc, err := OpenCSV(writeCSV(t, "CREDIT NOTE,x\nacct, ACC-7 \nref,CRN-9\n"), "d")
	require.NoError(t, err)
	defer doc.Close()

	got, err := doc.Cell("", "A1")
	require.NoError(t, err)
	assert.Equal(t, "CREDIT NOTE", got)

	got, err = doc.Cell("Sheet1", "B2") // sheet name is ignored
	require.NoError(t, err)
	assert.Equal(t, "ACC-7", got)

	// out of range reads as empty
	got, err = doc.Cell("", "Z99")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = doc.Cell("", "not-a-ref")
	assert.Error(t, err)
}

func TestCSVRaggedRows(t *testing.T) {
	doc, err := OpenCSV(writeCSV(t, "a,b,c\nd\n"), "d")
	require.NoError(t, err)
	defer doc.Close()

	got, err := doc.Cell("", "C1")
	require.NoError(t, err)
	assert.Equal(t, "c", got)

	got, err = doc.Cell("", "B2")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestCSVRawText(t *testing.T) {
	doc, err := OpenCSV(writeCSV(t, "INVOICE,INV-42\n,\ntotal,99.00\n"), "d")
	require.NoError(t, err)
	defer doc.Close()

	text, err := doc.RawText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INVOICE INV-42\ntotal 99.00", text)
}
