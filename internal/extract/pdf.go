package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docflowhq/docflow/constants"
)

// Letter-size fallback when a page carries no resolvable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// PDFDocument adapts a fixed-layout PDF to positioned text primitives.
type PDFDocument struct {
	file        *os.File
	reader      *pdf.Reader
	fingerprint string
	cache       *LayoutCache
}

func OpenPDF(path, fingerprint string, cache *LayoutCache) (*PDFDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &PDFDocument{file: f, reader: r, fingerprint: fingerprint, cache: cache}, nil
}

func (d *PDFDocument) Kind() constants.FileKind { return constants.FileKindPDF }
func (d *PDFDocument) Fingerprint() string      { return d.fingerprint }
func (d *PDFDocument) PageCount() int           { return d.reader.NumPage() }

func (d *PDFDocument) Page(ctx context.Context, n int) (*PageLayout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 || n > d.reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range (1..%d)", n, d.reader.NumPage())
	}
	if layout, ok := d.cache.get(d.fingerprint, n); ok {
		return layout, nil
	}

	page := d.reader.Page(n)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d is missing", n)
	}

	width, height := pageSize(page)
	content := page.Content()
	prims := make([]Primitive, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		prims = append(prims, Primitive{Text: t.S, X: t.X, Y: t.Y})
	}

	layout := &PageLayout{Number: n, Width: width, Height: height, Primitives: prims}
	d.cache.put(d.fingerprint, n, layout)
	return layout, nil
}

func (d *PDFDocument) Cell(string, string) (string, error) {
	return "", fmt.Errorf("pdf documents have no cells")
}

func (d *PDFDocument) RawText(ctx context.Context) (string, error) {
	var sb strings.Builder
	for n := 1; n <= d.reader.NumPage(); n++ {
		layout, err := d.Page(ctx, n)
		if err != nil {
			return "", err
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(JoinPageText(layout))
	}
	return sb.String(), nil
}

func (d *PDFDocument) Close() error { return d.file.Close() }

// pageSize resolves the page MediaBox, walking up the page tree for
// inherited values.
func pageSize(page pdf.Page) (float64, float64) {
	v := page.V
	for !v.IsNull() {
		box := v.Key("MediaBox")
		if !box.IsNull() && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}
