package blocks

import "github.com/local/minutebook/internal/page"

// Engine selects the collaborator that handles a block.
type Engine string

const (
	EngineText   Engine = "text"
	EngineVision Engine = "vision"
)

// Interval is an inclusive, 0-based page range.
type Interval struct {
	Start int `json:"startPageIndex"`
	End   int `json:"endPageIndex"`
}

// Len returns the number of pages in the interval.
func (iv Interval) Len() int { return iv.End - iv.Start + 1 }

// Contains reports whether idx lies in the interval.
func (iv Interval) Contains(idx int) bool { return idx >= iv.Start && idx <= iv.End }

// Overlaps reports whether two intervals share at least one page.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

// PageView is how a page appears inside a block payload.
type PageView struct {
	Index      int     `json:"pageIndex"`
	IsTarget   bool    `json:"isTarget"`
	IsFinal    bool    `json:"isFinal"`
	Text       string  `json:"text"`
	FinalLabel *string `json:"finalLabel"`
}

// Block is one classification request. It is built and discarded within a pass.
// The JSON form is the payload the text collaborator receives.
type Block struct {
	Target        Interval   `json:"targetInterval"`
	Pages         []PageView `json:"pages"`
	AllowedLabels []string   `json:"allowedLabels"`

	Engine  Engine   `json:"-"`
	Reasons []string `json:"-"` // escalation reasons, vision blocks only
}

// Targets returns the indices the block asks to be labeled.
func (b Block) Targets() []int {
	var out []int
	for _, p := range b.Pages {
		if p.IsTarget {
			out = append(out, p.Index)
		}
	}
	return out
}

// IsTarget reports whether idx is a target page of the block.
func (b Block) IsTarget(idx int) bool {
	for _, p := range b.Pages {
		if p.Index == idx {
			return p.IsTarget
		}
	}
	return false
}

// ContextSpan returns the first and last page index carried by the block.
func (b Block) ContextSpan() (int, int, bool) {
	if len(b.Pages) == 0 {
		return 0, 0, false
	}
	return b.Pages[0].Index, b.Pages[len(b.Pages)-1].Index, true
}

func viewOf(r *page.Record, isTarget bool) PageView {
	v := PageView{
		Index:    r.Index,
		IsTarget: isTarget,
		IsFinal:  r.IsFinal,
		Text:     r.Text,
	}
	if r.IsFinal && r.Label != "" {
		label := r.Label
		v.FinalLabel = &label
	}
	return v
}
