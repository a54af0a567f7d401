package extract

import (
	"sort"
	"strings"

	"github.com/docflowhq/docflow/internal/doctemplate"
)

// Primitive is one positioned text run on a page. Coordinates are native
// page units with a bottom-left origin at 1.0 scale, as PDF text operators
// report them.
type Primitive struct {
	Text string
	X    float64
	Y    float64
}

// PageLayout is the parsed text layout of one page.
type PageLayout struct {
	Number     int
	Width      float64
	Height     float64
	Primitives []Primitive
}

// lineTolerance treats near-equal normalized Y anchors as the same text
// line when ordering primitives inside a region.
const lineTolerance = 0.005

// ExtractRegion collects the primitives whose normalized top-left-origin
// anchor falls inside the region, orders them top-to-bottom then
// left-to-right, and joins their strings with single spaces.
func ExtractRegion(page *PageLayout, region doctemplate.Region) string {
	if page == nil || page.Width <= 0 || page.Height <= 0 {
		return ""
	}

	type anchored struct {
		text string
		x, y float64
	}
	var hits []anchored
	for _, p := range page.Primitives {
		nx := p.X / page.Width
		ny := 1 - p.Y/page.Height
		if region.Contains(nx, ny) {
			hits = append(hits, anchored{text: p.Text, x: nx, y: ny})
		}
	}
	if len(hits) == 0 {
		return ""
	}

	sort.SliceStable(hits, func(i, j int) bool {
		dy := hits[i].y - hits[j].y
		if dy < -lineTolerance {
			return true
		}
		if dy > lineTolerance {
			return false
		}
		return hits[i].x < hits[j].x
	})

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		if t := strings.TrimSpace(h.text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// JoinPageText renders a whole page in reading order, used to build the raw
// text the classifier and regex fallback operate on.
func JoinPageText(page *PageLayout) string {
	if page == nil {
		return ""
	}
	full := doctemplate.Region{Left: 0, Top: 0, Right: 1, Bottom: 1}
	return ExtractRegion(page, full)
}
