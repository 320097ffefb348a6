package filter

import (
	"strings"

	"debuglog/strutil"
)

// DisplayMatcher screens rendered viewer lines ("HH:MM:SS| ERROR msg") against
// a free-text query and the viewer's own exclusion set. The zero value
// matches everything.
type DisplayMatcher struct {
	query   string
	exclude *ExclusionSet
}

// NewDisplayMatcher normalizes query for case-insensitive matching.
func NewDisplayMatcher(query string, exclude *ExclusionSet) DisplayMatcher {
	return DisplayMatcher{query: strutil.NormalizeLower(query), exclude: exclude}
}

// Query returns the normalized text query.
func (m DisplayMatcher) Query() string {
	return m.query
}

// Exclusions returns the matcher's exclusion set (may be nil).
func (m DisplayMatcher) Exclusions() *ExclusionSet {
	return m.exclude
}

// Match reports whether line should be shown.
func (m DisplayMatcher) Match(line string) bool {
	if m.query == "" && m.exclude.Len() == 0 {
		return true
	}
	lowered := strings.ToLower(line)
	if m.query != "" && !strings.Contains(lowered, m.query) {
		return false
	}
	if m.exclude.Len() == 0 {
		return true
	}
	return !m.exclude.matches(displaySender(line), lowered)
}

// displaySender returns the first token after the time prefix separator, or
// the first token of the line when there is no separator.
func displaySender(line string) string {
	if idx := strings.IndexByte(line, '|'); idx >= 0 {
		line = line[idx+1:]
	}
	return strings.ToLower(strutil.FirstField(line))
}
