package extract

import (
	"regexp"
	"strings"
	"time"
)

var (
	reCurrencyNoise = regexp.MustCompile(`[^\d.,\-]`)
	reThousands     = regexp.MustCompile(`,(\d{3})`)
)

// dateLayouts are tried in order when reparsing extracted date strings.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2 January 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ApplyTransform normalizes an extracted raw value according to the field's
// declared transform. Unknown transforms pass the trimmed value through.
func ApplyTransform(name, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	switch name {
	case "amount":
		return NormalizeAmount(value)
	case "date":
		return NormalizeDate(value)
	default:
		return value
	}
}

// NormalizeAmount strips currency symbols and thousands separators, keeping
// a plain decimal string. Values that keep no digits normalize to "".
func NormalizeAmount(value string) string {
	v := reCurrencyNoise.ReplaceAllString(value, "")
	v = reThousands.ReplaceAllString(v, "$1")
	v = strings.TrimSpace(v)
	if !strings.ContainsAny(v, "0123456789") {
		return ""
	}
	// European style "1234,56" -> "1234.56"
	if strings.Count(v, ",") == 1 && !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	return strings.Trim(v, ",")
}

// NormalizeDate reparses a date string into ISO 8601 (2006-01-02). Values
// that match no known layout pass through unchanged so downstream consumers
// can still see what was read.
func NormalizeDate(value string) string {
	v := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}
