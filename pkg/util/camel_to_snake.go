package util

import (
	"strings"
	"unicode"
)

// CamelToSnakeCase converts Go field names to their snake_case column
// names. Acronym runs stay together, so RunID maps to run_id rather
// than run_i_d.
func CamelToSnakeCase(str string) string {
	var b strings.Builder

	runes := []rune(str)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}
