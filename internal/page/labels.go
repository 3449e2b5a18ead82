package page

import (
	"strings"
	"unicode"
)

// DefaultLabels is the section set of a corporate minute book.
var DefaultLabels = []string{
	"Articles & Amendments",
	"By Laws",
	"Unanimous Shareholder Agreement",
	"Minutes & Resolutions",
	"Directors Register",
	"Officers Register",
	"Shareholder Register",
	"Securities Register",
	"Share Certificates",
	"Ultimate Beneficial Owner Register",
}

// LabelSet is the closed, ordered set of allowed section names. The zero value
// is an empty set; build one with NewLabelSet.
type LabelSet struct {
	names      []string
	normalized []string
	exact      map[string]struct{}
}

// NewLabelSet copies names, dropping blanks and duplicates while keeping order.
func NewLabelSet(names []string) LabelSet {
	ls := LabelSet{exact: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := ls.exact[n]; dup {
			continue
		}
		ls.exact[n] = struct{}{}
		ls.names = append(ls.names, n)
		ls.normalized = append(ls.normalized, normalizeLabel(n))
	}
	return ls
}

// Names returns a copy of the labels in configured order.
func (ls LabelSet) Names() []string {
	out := make([]string, len(ls.names))
	copy(out, ls.names)
	return out
}

func (ls LabelSet) Len() int { return len(ls.names) }

// Contains reports an exact match.
func (ls LabelSet) Contains(label string) bool {
	_, ok := ls.exact[label]
	return ok
}

// Canonicalize maps a raw label returned by a classifier onto the set.
// The trimmed raw value is tried as an exact match first. Otherwise the first
// allowed label (in set order) whose normalized form is contained in the
// normalized raw value wins. Normalization lowercases and keeps letters and
// digits only.
func (ls LabelSet) Canonicalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if ls.Contains(trimmed) {
		return trimmed, true
	}

	norm := normalizeLabel(trimmed)
	if norm == "" {
		return "", false
	}
	for i, allowed := range ls.normalized {
		if allowed != "" && strings.Contains(norm, allowed) {
			return ls.names[i], true
		}
	}
	return "", false
}

func normalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
