package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docflowhq/docflow/constants"
)

// SpreadsheetDocument adapts an XLSX/XLSM workbook to named-cell reads.
type SpreadsheetDocument struct {
	book        *excelize.File
	fingerprint string
}

func OpenSpreadsheet(path, fingerprint string) (*SpreadsheetDocument, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	return &SpreadsheetDocument{book: book, fingerprint: fingerprint}, nil
}

func (d *SpreadsheetDocument) Kind() constants.FileKind { return constants.FileKindSpreadsheet }
func (d *SpreadsheetDocument) Fingerprint() string      { return d.fingerprint }
func (d *SpreadsheetDocument) PageCount() int           { return d.book.SheetCount }

func (d *SpreadsheetDocument) Page(context.Context, int) (*PageLayout, error) {
	return nil, fmt.Errorf("spreadsheets have no page layout")
}

// Cell reads one cell; an empty sheet name selects the first sheet. Unmapped
// or out-of-range cells read as empty, not as errors.
func (d *SpreadsheetDocument) Cell(sheet, ref string) (string, error) {
	if sheet == "" {
		sheet = d.book.GetSheetName(0)
	}
	value, err := d.book.GetCellValue(sheet, ref)
	if err != nil {
		return "", fmt.Errorf("read cell %s!%s: %w", sheet, ref, err)
	}
	return strings.TrimSpace(value), nil
}

func (d *SpreadsheetDocument) RawText(_ context.Context) (string, error) {
	var sb strings.Builder
	for _, sheet := range d.book.GetSheetList() {
		rows, err := d.book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(line)
		}
	}
	return sb.String(), nil
}

func (d *SpreadsheetDocument) Close() error { return d.book.Close() }
