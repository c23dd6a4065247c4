package domain

import "strings"

// NormalizeCode canonicalizes a decoded barcode into the lookup key used for
// both deduplication and cache identity. Scanners occasionally deliver
// whitespace or inner separators around the digits; two observations of the
// same physical barcode must map to the same key.
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}
