package doctemplate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docflowhq/docflow/constants"
)

// Resolver selects the template to apply to a (file kind, document type)
// pair using a strict fallback chain:
//
//	(a) the default template for the file kind, accepted only when its
//	    declared type equals the requested type; a mismatching default is
//	    rejected outright, never silently substituted;
//	(b) any enabled non-default template of the exact type;
//	(c) for PDFs, the default invoice template as a generic last resort;
//	(d) any enabled template of the file kind.
//
// Every fallback step taken is recorded in the returned warnings so
// mismatches stay auditable.
type Resolver struct {
	Store  Store
	Logger *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Store: store, Logger: logger}
}

// Resolve returns nil when no template applies; extraction then falls back
// to the regex-only extractor.
func (r *Resolver) Resolve(ctx context.Context, kind constants.FileKind, docType constants.DocumentType) (*Template, []string, error) {
	templates, err := r.Store.ListEnabled(ctx, kind)
	if err != nil {
		return nil, nil, fmt.Errorf("list templates: %w", err)
	}

	var warnings []string

	// (a) the default for the file kind, exact type required.
	for _, t := range templates {
		if !t.IsDefault {
			continue
		}
		if t.DocumentType == docType {
			return t, warnings, nil
		}
		warnings = append(warnings,
			fmt.Sprintf("default template %q declares type %s, requested %s: rejected", t.Name, t.DocumentType, docType))
		r.Logger.Warn("default template type mismatch, rejected",
			"template", t.Name, "declared", t.DocumentType, "requested", docType)
	}

	// (b) any enabled non-default template of the exact type.
	for _, t := range templates {
		if !t.IsDefault && t.DocumentType == docType {
			warnings = append(warnings, fmt.Sprintf("no default template for %s/%s, using %q", kind, docType, t.Name))
			return t, warnings, nil
		}
	}

	// (c) PDFs fall back to the default invoice template.
	if kind == constants.FileKindPDF && docType != constants.DocTypeInvoice {
		for _, t := range templates {
			if t.IsDefault && t.DocumentType == constants.DocTypeInvoice {
				warnings = append(warnings, fmt.Sprintf("falling back to default invoice template %q for %s", t.Name, docType))
				return t, warnings, nil
			}
		}
	}

	// (d) anything enabled for the file kind.
	if len(templates) > 0 {
		t := templates[0]
		warnings = append(warnings, fmt.Sprintf("no template for type %s, using %q (%s)", docType, t.Name, t.DocumentType))
		return t, warnings, nil
	}

	warnings = append(warnings, fmt.Sprintf("no enabled template for file kind %s", kind))
	return nil, warnings, nil
}
