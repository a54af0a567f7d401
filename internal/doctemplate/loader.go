package doctemplate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// templateFile is the YAML document shape for template definitions.
type templateFile struct {
	Templates []*Template `yaml:"templates"`
}

// LoadFile reads template definitions from a YAML file into a MemoryStore.
// Templates must set enabled explicitly; an omitted flag loads as disabled.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var doc templateFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", path, err)
	}

	store := NewMemoryStore()
	for i, t := range doc.Templates {
		if err := validateTemplate(t); err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, t.Name, err)
		}
		store.Put(t)
	}
	return store, nil
}

func validateTemplate(t *Template) error {
	switch t.DocumentType {
	case "invoice", "credit_note", "statement":
	default:
		return fmt.Errorf("unknown document_type %q", t.DocumentType)
	}
	switch t.FileKind {
	case "pdf", "spreadsheet":
	default:
		return fmt.Errorf("unknown file_kind %q", t.FileKind)
	}
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if t.FileKind == "pdf" {
			if f.Region == nil {
				return fmt.Errorf("field %q: pdf templates need a region", f.Name)
			}
			r := f.Region
			if r.Left < 0 || r.Right > 1 || r.Top < 0 || r.Bottom > 1 || r.Left > r.Right || r.Top > r.Bottom {
				return fmt.Errorf("field %q: region out of bounds", f.Name)
			}
			if r.Page < 1 {
				return fmt.Errorf("field %q: page numbers start at 1", f.Name)
			}
		} else if f.Cell == "" {
			return fmt.Errorf("field %q: spreadsheet templates need a cell reference", f.Name)
		}
	}
	return nil
}
