package record

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText trims and NFC-normalizes free text (notes, zone names) before
// it is persisted, so the same accented Spanish text typed on different
// devices compares equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeZone returns a copy of z with normalized text, or nil.
func NormalizeZone(z *Zone) *Zone {
	if z == nil {
		return nil
	}
	return &Zone{
		Code: strings.TrimSpace(z.Code),
		Name: NormalizeText(z.Name),
	}
}
