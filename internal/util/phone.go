package util

import "strings"

// NormalizePhone strips spaces, dashes and parentheses, and a "whatsapp:"
// prefix if present.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "whatsapp:")
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(p)
}

// IsE164 reports whether p looks like +<country><number>.
func IsE164(p string) bool {
	if len(p) < 8 || len(p) > 16 || p[0] != '+' {
		return false
	}
	for _, r := range p[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
