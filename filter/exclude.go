// Package filter decides which log events are suppressed before they reach a
// sink.
//
// Two layers exist:
//   - sender exclusion, applied by the relay to every decoded event
//   - display matching, applied by the interactive viewer to rendered lines
//
// Both share the same exclusion rule: an exclusion substring suppresses a line
// when it occurs in the sender token (the first word) or anywhere in the
// lower-cased text. The full-text match can hide unrelated lines that merely
// mention an excluded word; that is the established behavior and is kept.
package filter

import (
	"strings"

	"debuglog/strutil"
)

// DefaultExcludeSenders are the noisy download-manager senders hidden unless
// the operator opts out.
var DefaultExcludeSenders = []string{"download", "downloadovor", "downloadmanager"}

// ExclusionSet is an immutable set of lower-case substrings. A run replaces the
// whole set rather than mutating it, so readers never need a lock.
type ExclusionSet struct {
	values []string
}

// NewExclusionSet normalizes values (trim + lower case), dropping blanks and
// duplicates while keeping first-seen order.
func NewExclusionSet(values ...string) *ExclusionSet {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		norm := strutil.NormalizeLower(v)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return &ExclusionSet{values: out}
}

// BuildExclusions combines operator-supplied substrings with the defaults.
func BuildExclusions(extra []string, includeDefaults bool) *ExclusionSet {
	values := make([]string, 0, len(extra)+len(DefaultExcludeSenders))
	values = append(values, extra...)
	if includeDefaults {
		values = append(values, DefaultExcludeSenders...)
	}
	return NewExclusionSet(values...)
}

// ParseExclusionList builds a set from comma-separated user input such as
// "download, net".
func ParseExclusionList(raw string) *ExclusionSet {
	return NewExclusionSet(strutil.SplitList(raw)...)
}

// Len returns the number of substrings. A nil set is empty.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Values returns a copy of the substrings in insertion order.
func (s *ExclusionSet) Values() []string {
	if s == nil || len(s.values) == 0 {
		return nil
	}
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// String renders the set the way the viewer's exclude box expects it.
func (s *ExclusionSet) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.values, ", ")
}

// matches applies the shared exclusion rule to an already lower-cased sender
// token and text.
func (s *ExclusionSet) matches(sender, lowered string) bool {
	for _, exc := range s.values {
		if strings.Contains(sender, exc) || strings.Contains(lowered, exc) {
			return true
		}
	}
	return false
}

// ExtractSender returns the lower-cased first token of msg, which producers
// use for the sender name (e.g. "Nanovor 1 ..." -> "nanovor").
func ExtractSender(msg string) string {
	return strings.ToLower(strutil.FirstField(msg))
}

// ShouldExclude reports whether msg is suppressed by set. An empty or nil set
// never excludes.
func ShouldExclude(msg string, set *ExclusionSet) bool {
	if set.Len() == 0 {
		return false
	}
	return set.matches(ExtractSender(msg), strings.ToLower(msg))
}
