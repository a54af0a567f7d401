package extract

import (
	"regexp"
	"strings"
)

// Reference-number length bounds. The basic regex fallback applies the
// tighter bound because it has no spatial context and must not swallow
// address lines; the coordinate path already reads from a known region.
// TODO: confirm whether the divergence is intentional before unifying.
const (
	basicRefMinLen = 4
	basicRefMaxLen = 20
	coordRefMinLen = 4
	coordRefMaxLen = 50
)

// Canonical field names produced by extraction.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldTotalAmount   = "total_amount"
	FieldAccountNumber = "account_number"
	FieldPurchaseOrder = "purchase_order"
)

// patternRule pairs a capture pattern with a validator. Rules are evaluated
// in priority order and the first validated match wins, preserving the
// most-specific-pattern-first tie-break.
type patternRule struct {
	re       *regexp.Regexp
	validate func(string) bool
}

func refLenBetween(min, max int) func(string) bool {
	return func(s string) bool {
		n := len(strings.TrimSpace(s))
		return n >= min && n <= max
	}
}

func anyValue(string) bool { return true }

var fallbackRules = map[string][]patternRule{
	FieldInvoiceNumber: {
		{regexp.MustCompile(`(?i)tax\s+invoice\s*(?:no\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]+)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
		{regexp.MustCompile(`(?i)invoice\s*(?:no\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]+)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
		{regexp.MustCompile(`(?i)invoice\s*[:\-]\s*([A-Z0-9][A-Z0-9\-/]+)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
	},
	FieldAccountNumber: {
		{regexp.MustCompile(`(?i)account\s*(?:no\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]*)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
		{regexp.MustCompile(`(?i)customer\s*(?:no\.?|number|code)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]*)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
		{regexp.MustCompile(`(?i)\bacct\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
	},
	FieldInvoiceDate: {
		{regexp.MustCompile(`(?i)(?:invoice\s+)?date\s*[:\-]?\s*(\d{4}-\d{2}-\d{2})`), anyValue},
		{regexp.MustCompile(`(?i)(?:invoice\s+)?date\s*[:\-]?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{4})`), anyValue},
		{regexp.MustCompile(`(?i)(?:invoice\s+)?date\s*[:\-]?\s*(\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4})`), anyValue},
		{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), anyValue},
	},
	FieldTotalAmount: {
		{regexp.MustCompile(`(?i)(?:amount\s+due|total\s+due|balance\s+due)\s*[:\-]?\s*[$£€]?\s*([\d,]+\.\d{2})`), anyValue},
		{regexp.MustCompile(`(?i)\btotal\b\s*[:\-]?\s*[$£€]?\s*([\d,]+\.\d{2})`), anyValue},
		{regexp.MustCompile(`[$£€]\s*([\d,]+\.\d{2})`), anyValue},
	},
	FieldPurchaseOrder: {
		{regexp.MustCompile(`(?i)(?:purchase\s+order|p\.?o\.?)\s*(?:no\.?|number|#)?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]+)`), refLenBetween(basicRefMinLen, basicRefMaxLen)},
	},
}

// fallbackFieldOrder keeps fallback output deterministic.
var fallbackFieldOrder = []string{
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldTotalAmount,
	FieldAccountNumber,
	FieldPurchaseOrder,
}

// FallbackExtract applies the regex-only extractor to raw text. Fields with
// no validated match are absent from the result.
func FallbackExtract(text string) map[string]string {
	out := make(map[string]string)
	for _, field := range fallbackFieldOrder {
		for _, rule := range fallbackRules[field] {
			m := rule.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			candidate := strings.TrimSpace(m[1])
			if !rule.validate(candidate) {
				continue
			}
			switch field {
			case FieldTotalAmount:
				out[field] = NormalizeAmount(candidate)
			case FieldInvoiceDate:
				out[field] = NormalizeDate(candidate)
			default:
				out[field] = candidate
			}
			break
		}
	}
	return out
}

// ValidCoordinateReference bounds reference-like values read through a
// coordinate region.
func ValidCoordinateReference(s string) bool {
	n := len(strings.TrimSpace(s))
	return n >= coordRefMinLen && n <= coordRefMaxLen
}
