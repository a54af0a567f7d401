package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docflowhq/docflow/constants"
)

// Document is an open, parseable file. PDF documents serve pages of
// positioned text; spreadsheets serve named cells.
type Document interface {
	Kind() constants.FileKind
	// Fingerprint identifies the content for layout caching, normally the
	// content digest.
	Fingerprint() string
	PageCount() int
	// Page returns the parsed text layout of a 1-based page number.
	Page(ctx context.Context, n int) (*PageLayout, error)
	// Cell reads a named cell; sheet may be empty for the first sheet.
	Cell(sheet, ref string) (string, error)
	// RawText renders the whole document as plain text for classification
	// and the regex fallback.
	RawText(ctx context.Context) (string, error)
	Close() error
}

// Open opens path with the adapter matching its extension.
func Open(path, fingerprint string, cache *LayoutCache) (Document, error) {
	kind, ok := constants.KindForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	switch kind {
	case constants.FileKindPDF:
		return OpenPDF(path, fingerprint, cache)
	default:
		if constants.NormalizeExt(filepath.Ext(path)) == "csv" {
			return OpenCSV(path, fingerprint)
		}
		return OpenSpreadsheet(path, fingerprint)
	}
}

// LayoutCache memoizes parsed page layouts per content fingerprint and page
// number so templates with many fields on one page parse it once. Safe for
// concurrent readers; writes take the exclusive lock.
type LayoutCache struct {
	mu    sync.RWMutex
	pages map[string]*PageLayout
}

func NewLayoutCache() *LayoutCache {
	return &LayoutCache{pages: make(map[string]*PageLayout)}
}

func (c *LayoutCache) get(fingerprint string, page int) (*PageLayout, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.pages[cacheKey(fingerprint, page)]
	return l, ok
}

func (c *LayoutCache) put(fingerprint string, page int, layout *PageLayout) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[cacheKey(fingerprint, page)] = layout
}

// Evict drops all cached pages for a fingerprint, used after a file leaves
// the pipeline.
func (c *LayoutCache) Evict(fingerprint string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := fingerprint + ":"
	for k := range c.pages {
		if strings.HasPrefix(k, prefix) {
			delete(c.pages, k)
		}
	}
}

func cacheKey(fingerprint string, page int) string {
	return fmt.Sprintf("%s:%d", fingerprint, page)
}
