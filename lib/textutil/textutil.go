package textutil

import (
	"strings"
	"unicode"
)

// NormalizeKey derives an identifier-safe key from a display name:
// lowercase, spaces to underscores, everything else non-alphanumeric
// stripped. Stable across polls as long as the upstream name is.
func NormalizeKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")

	out := strings.Builder{}
	for _, c := range name {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			out.WriteRune(c)
		}
	}
	return out.String()
}

// CleanCourseName reduces a raw portal course title like
// "MATH0700 - 2 Math 7" to its display form "Math 7".
func CleanCourseName(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, " - ") {
		name = strings.TrimSpace(name[strings.LastIndex(name, " - ")+3:])
	}

	// drop a leading period number, e.g. "2 Spanish II" -> "Spanish II"
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 2 && isDigits(parts[0]) {
		return strings.TrimSpace(parts[1])
	}
	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}
