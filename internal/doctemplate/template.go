// Package doctemplate models user-defined coordinate templates and selects
// the template to apply to a classified document.
package doctemplate

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
)

// Region is a named page area in template authoring convention: fractions of
// page width/height in [0,1] with a top-left origin.
type Region struct {
	Page   int     `yaml:"page"`
	Left   float64 `yaml:"left"`
	Top    float64 `yaml:"top"`
	Right  float64 `yaml:"right"`
	Bottom float64 `yaml:"bottom"`
}

// Contains reports whether a normalized top-left-origin point falls inside
// the region, boundaries inclusive.
func (r Region) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}

// FieldDef maps a business field name to where its value is read from.
// Exactly one of Region (PDF) or Cell (spreadsheet) is set.
type FieldDef struct {
	Name      string  `yaml:"name"`
	Region    *Region `yaml:"region,omitempty"`
	Sheet     string  `yaml:"sheet,omitempty"`
	Cell      string  `yaml:"cell,omitempty"`
	Transform string  `yaml:"transform,omitempty"` // "", "trim", "amount", "date"
}

// Template is a user-defined extraction layout for one document type and
// file kind.
type Template struct {
	ID              uuid.UUID              `yaml:"id"`
	Name            string                 `yaml:"name"`
	SupplierID      *uuid.UUID             `yaml:"supplier_id,omitempty"` // nil means global scope
	DocumentType    constants.DocumentType `yaml:"document_type"`
	FileKind        constants.FileKind     `yaml:"file_kind"`
	IsDefault       bool                   `yaml:"is_default"`
	Enabled         bool                   `yaml:"enabled"`
	Priority        int                    `yaml:"priority"`
	Fields          []FieldDef             `yaml:"fields"`
	MandatoryFields []string               `yaml:"mandatory_fields"`
}

// Store lists enabled templates for a file kind, highest priority first.
type Store interface {
	ListEnabled(ctx context.Context, kind constants.FileKind) ([]*Template, error)
}

// MemoryStore is an in-process template store used by tests, the batch CLI,
// and YAML-file deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	templates []*Template
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Put adds or replaces a template by ID. Setting a default unsets default on
// sibling templates of the same (scope, document type, file kind) so at most
// one default exists per tuple.
func (s *MemoryStore) Put(t *Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.IsDefault {
		for _, other := range s.templates {
			if other.ID != t.ID && sameScope(other.SupplierID, t.SupplierID) &&
				other.DocumentType == t.DocumentType && other.FileKind == t.FileKind {
				other.IsDefault = false
			}
		}
	}
	for i, other := range s.templates {
		if other.ID == t.ID {
			s.templates[i] = t
			return
		}
	}
	s.templates = append(s.templates, t)
}

func (s *MemoryStore) ListEnabled(_ context.Context, kind constants.FileKind) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Template
	for _, t := range s.templates {
		if t.Enabled && t.FileKind == kind {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func sameScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
