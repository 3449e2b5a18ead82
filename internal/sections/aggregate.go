package sections

import "github.com/local/minutebook/internal/page"

// Section is a maximal run of pages sharing one label. Pages are 1-based and inclusive.
type Section struct {
	Name      string `json:"name"`
	StartPage int    `json:"startPage"`
	EndPage   int    `json:"endPage"`
}

// Pages returns the number of pages covered.
func (s Section) Pages() int { return s.EndPage - s.StartPage + 1 }

// Aggregate collapses per-page labels into sections. Records are scanned in the
// order given, which must be ascending index order. An unlabeled page closes
// the current run and produces a gap. Aggregate does not modify its input.
func Aggregate(records []page.Record) []Section {
	var (
		out     []Section
		current string
		start   int
		last    int
		open    bool
	)
	closeRun := func() {
		if open {
			out = append(out, Section{Name: current, StartPage: start + 1, EndPage: last + 1})
		}
		open = false
		current = ""
	}

	for _, r := range records {
		if !r.HasLabel() {
			closeRun()
			continue
		}
		if open && r.Label == current {
			last = r.Index
			continue
		}
		closeRun()
		current, start, last, open = r.Label, r.Index, r.Index, true
	}
	closeRun()
	return out
}

// Gaps returns the 1-based page numbers that belong to no section.
func Gaps(records []page.Record) []int {
	var out []int
	for _, r := range records {
		if !r.HasLabel() {
			out = append(out, r.Index+1)
		}
	}
	return out
}
