package auth

import (
	"strings"
	"unicode"
)

// SanitizeName trims a name field, turning control characters and runs of
// whitespace into single spaces.
func SanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	return strings.Join(strings.Fields(cleaned), " ")
}
