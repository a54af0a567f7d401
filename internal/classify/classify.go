// Package classify tags raw document text with a document type using
// ordered keyword heuristics.
package classify

import (
	"regexp"
	"strings"

	"github.com/docflowhq/docflow/constants"
)

// Standalone "CN" token, case-sensitive: credit notes abbreviate it in
// upper case, while lower-case "cn" shows up in domain names and addresses.
var reCNToken = regexp.MustCompile(`\bCN\b`)

// Classify returns the document type for raw text. Credit-note markers are
// checked before invoice markers because "invoice" and "credit" co-occur on
// credit notes that reference an original invoice number. Unrecognized text
// defaults to invoice, the statistically dominant type.
func Classify(text string) constants.DocumentType {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "credit note"),
		strings.Contains(lower, "creditnote"):
		return constants.DocTypeCreditNote
	case reCNToken.MatchString(text):
		return constants.DocTypeCreditNote
	case strings.Contains(lower, "credit") && strings.Contains(lower, "note"):
		return constants.DocTypeCreditNote
	case strings.Contains(lower, "account statement"),
		strings.Contains(lower, "statement of account"),
		strings.Contains(lower, "statement"):
		return constants.DocTypeStatement
	case strings.Contains(lower, "tax invoice"),
		strings.Contains(lower, "invoice"):
		return constants.DocTypeInvoice
	default:
		return constants.DocTypeInvoice
	}
}
