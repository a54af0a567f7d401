// Package confidence combines text-quality signals, template coverage, and
// presence of key business fields into a single 0-100 extraction score.
package confidence

import (
	"regexp"
	"strings"

	"github.com/docflowhq/docflow/internal/doctemplate"
	"github.com/docflowhq/docflow/internal/extract"
)

var reNumeric = regexp.MustCompile(`^\d[\d,]*(\.\d+)?$`)

// Method base quality when no provider confidence is reported, as a
// fraction of 1.
var methodBase = map[string]float64{
	extract.MethodCoordinate: 0.80,
	extract.MethodCells:      0.80,
	extract.MethodRegex:      0.70,
}

// Score weights: base quality 40%, template coverage 35% (+10 mandatory
// bonus), text quality 15%, data plausibility 10%. Capped at 100.
func Score(res *extract.Result, tpl *doctemplate.Template, providerConfidence *float64) int {
	score := baseQuality(res, providerConfidence) +
		coverage(res, tpl) +
		textQuality(res) +
		plausibility(res)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}

func baseQuality(res *extract.Result, providerConfidence *float64) float64 {
	base, ok := methodBase[res.Method]
	if !ok {
		base = 0.70
	}
	if providerConfidence != nil && *providerConfidence >= 0 && *providerConfidence <= 1 {
		base = *providerConfidence
	}
	return base * 40
}

// coverage rewards the fraction of template fields that yielded a value,
// with a bonus for mandatory-field coverage. Without a template it collapses
// to a small flat bonus for the key identity fields.
func coverage(res *extract.Result, tpl *doctemplate.Template) float64 {
	if tpl == nil || len(tpl.Fields) == 0 {
		var flat float64
		if _, ok := extract.LookupFuzzy(res.Fields, extract.FieldInvoiceNumber); ok {
			flat += 5
		}
		if _, ok := extract.LookupFuzzy(res.Fields, extract.FieldInvoiceDate); ok {
			flat += 5
		}
		return flat
	}

	matched := 0
	for _, def := range tpl.Fields {
		if _, ok := extract.LookupFuzzy(res.Fields, def.Name); ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(tpl.Fields)) * 35

	if len(tpl.MandatoryFields) > 0 {
		covered := 0
		for _, name := range tpl.MandatoryFields {
			if _, ok := extract.LookupFuzzy(res.Fields, name); ok {
				covered++
			}
		}
		score += float64(covered) / float64(len(tpl.MandatoryFields)) * 10
	}
	return score
}

func textQuality(res *extract.Result) float64 {
	const lengthCap = 500.0
	n := float64(len(res.FullText))
	if n > lengthCap {
		n = lengthCap
	}
	score := n / lengthCap * 10
	if v, ok := extract.LookupFuzzy(res.Fields, extract.FieldTotalAmount); ok && v != "" {
		score += 5
	}
	return score
}

func plausibility(res *extract.Result) float64 {
	var score float64
	if _, ok := extract.LookupFuzzy(res.Fields, extract.FieldInvoiceNumber); ok {
		score += 3
	}
	if _, ok := extract.LookupFuzzy(res.Fields, extract.FieldInvoiceDate); ok {
		score += 3
	}
	if v, ok := extract.LookupFuzzy(res.Fields, extract.FieldTotalAmount); ok && looksNumeric(v) {
		score += 4
	}
	return score
}

func looksNumeric(s string) bool {
	return reNumeric.MatchString(strings.TrimSpace(s))
}
