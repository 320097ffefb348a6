package strutil

import (
	"strings"
	"unicode"
)

// NormalizeLower trims surrounding whitespace and converts to lower case.
// Use for sender names and exclusion substrings where case is not significant.
func NormalizeLower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// FirstField returns the first whitespace-delimited token of value, or "" when
// value is blank.
func FirstField(value string) string {
	value = strings.TrimLeftFunc(value, unicode.IsSpace)
	if idx := strings.IndexFunc(value, unicode.IsSpace); idx >= 0 {
		return value[:idx]
	}
	return value
}

// SplitList splits a comma-separated list, normalizes each entry to lower case
// and drops empty entries.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if norm := NormalizeLower(part); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}
