// Package extract reads structured fields out of fixed-layout PDFs and
// spreadsheets using user-defined coordinate templates, with a regex-only
// fallback when no template resolves.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/doctemplate"
)

// Processing method tags recorded on extraction results.
const (
	MethodCoordinate = "coordinate_template"
	MethodCells      = "spreadsheet_cells"
	MethodRegex      = "basic_regex"
)

// Result is the immutable outcome of one extraction attempt.
type Result struct {
	Fields     map[string]string `json:"fields"`
	FullText   string            `json:"full_text"` // extracted values only
	Confidence int               `json:"confidence"`
	Method     string            `json:"method"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Extractor applies a resolved template's field definitions to a document.
type Extractor struct {
	Logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{Logger: logger}
}

// Extract produces the field map for doc. A nil template selects the regex
// fallback. A missing field value is a gap, never an error. The detected
// document type is double-checked against the template after extraction; a
// mismatch attaches a warning without discarding extracted data.
func (e *Extractor) Extract(ctx context.Context, doc Document, tpl *doctemplate.Template, detected constants.DocumentType) (*Result, error) {
	if tpl == nil {
		raw, err := doc.RawText(ctx)
		if err != nil {
			return nil, fmt.Errorf("read text: %w", err)
		}
		fields := FallbackExtract(raw)
		res := &Result{
			Fields:   fields,
			FullText: joinValues(fields, nil),
			Method:   MethodRegex,
			Warnings: []string{"no template resolved, regex fallback used"},
		}
		return res, nil
	}

	var (
		res = &Result{Fields: make(map[string]string)}
		err error
	)
	switch doc.Kind() {
	case constants.FileKindPDF:
		res.Method = MethodCoordinate
		err = e.extractRegions(ctx, doc, tpl, res)
	case constants.FileKindSpreadsheet:
		res.Method = MethodCells
		err = e.extractCells(doc, tpl, res)
	default:
		return nil, fmt.Errorf("unsupported file kind %q", doc.Kind())
	}
	if err != nil {
		return nil, err
	}

	if tpl.DocumentType != detected {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("template %q declares type %s but document classified as %s", tpl.Name, tpl.DocumentType, detected))
	}
	res.FullText = joinValues(res.Fields, tpl.Fields)
	return res, nil
}

func (e *Extractor) extractRegions(ctx context.Context, doc Document, tpl *doctemplate.Template, res *Result) error {
	for _, def := range tpl.Fields {
		if def.Region == nil {
			continue
		}
		layout, err := doc.Page(ctx, def.Region.Page)
		if err != nil {
			return fmt.Errorf("field %s: %w", def.Name, err)
		}
		value := ApplyTransform(def.Transform, ExtractRegion(layout, *def.Region))
		if value == "" {
			// A gap, reported downstream through coverage, not an error.
			e.Logger.Debug("region yielded no primitives", "field", def.Name, "page", def.Region.Page)
			continue
		}
		if isReferenceField(def.Name) && !ValidCoordinateReference(value) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("field %s value %q failed reference validation", def.Name, value))
			continue
		}
		res.Fields[def.Name] = value
	}
	return nil
}

func (e *Extractor) extractCells(doc Document, tpl *doctemplate.Template, res *Result) error {
	for _, def := range tpl.Fields {
		if def.Cell == "" {
			continue
		}
		raw, err := doc.Cell(def.Sheet, def.Cell)
		if err != nil {
			return fmt.Errorf("field %s: %w", def.Name, err)
		}
		if value := ApplyTransform(def.Transform, raw); value != "" {
			res.Fields[def.Name] = value
		}
	}
	return nil
}

func isReferenceField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "number") || strings.Contains(n, "account") || strings.Contains(n, "reference")
}

// joinValues builds the synthetic full-text view of only the extracted
// values, in template field order when a template drove extraction.
func joinValues(fields map[string]string, defs []doctemplate.FieldDef) string {
	var parts []string
	if defs != nil {
		for _, def := range defs {
			if v, ok := fields[def.Name]; ok && v != "" {
				parts = append(parts, v)
			}
		}
	} else {
		for _, name := range fallbackFieldOrder {
			if v, ok := fields[name]; ok && v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// FuzzyKey normalizes a field name for matching extracted keys against
// template field names: case, underscores, hyphens, spaces and camel-case
// boundaries are all ignored.
func FuzzyKey(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// LookupFuzzy finds a field value by fuzzy name match.
func LookupFuzzy(fields map[string]string, name string) (string, bool) {
	want := FuzzyKey(name)
	for k, v := range fields {
		if FuzzyKey(k) == want {
			return v, v != ""
		}
	}
	return "", false
}
