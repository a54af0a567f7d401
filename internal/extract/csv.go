package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docflowhq/docflow/constants"
)

// CSVDocument adapts a delimited text file to the same named-cell surface as
// a workbook. The single sheet is the file itself, addressed with A1-style
// references.
type CSVDocument struct {
	rows        [][]string
	fingerprint string
}

func OpenCSV(path, fingerprint string) (*CSVDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are common in exported reports
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}
	return &CSVDocument{rows: rows, fingerprint: fingerprint}, nil
}

func (d *CSVDocument) Kind() constants.FileKind { return constants.FileKindSpreadsheet }
func (d *CSVDocument) Fingerprint() string      { return d.fingerprint }
func (d *CSVDocument) PageCount() int           { return 1 }

func (d *CSVDocument) Page(context.Context, int) (*PageLayout, error) {
	return nil, fmt.Errorf("delimited files have no page layout")
}

// Cell reads one cell by A1-style reference; the sheet name is ignored.
// Out-of-range cells read as empty, not as errors.
func (d *CSVDocument) Cell(_, ref string) (string, error) {
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return "", fmt.Errorf("read cell %s: %w", ref, err)
	}
	if row > len(d.rows) {
		return "", nil
	}
	record := d.rows[row-1]
	if col > len(record) {
		return "", nil
	}
	return strings.TrimSpace(record[col-1]), nil
}

func (d *CSVDocument) RawText(_ context.Context) (string, error) {
	var sb strings.Builder
	for _, row := range d.rows {
		line := strings.TrimSpace(strings.Join(row, " "))
		if line == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(line)
	}
	return sb.String(), nil
}

func (d *CSVDocument) Close() error { return nil }
