package orchestrator

import (
	"fmt"

	"github.com/local/minutebook/internal/page"
)

// EscalationConfig decides which pages go to the vision model.
type EscalationConfig struct {
	Enabled       bool
	OCRThreshold  float64
	LowConfidence float64
	MaxPages      int // per pass
}

// Candidate is a page selected for vision with the reasons it qualified.
type Candidate struct {
	Index   int
	Reasons []string
}

// Reasons lists why r should be seen by the vision model. Final pages only
// qualify while the incoherence flag is still set.
func (e EscalationConfig) Reasons(r *page.Record) []string {
	if r.IsFinal && !r.NeedsVision {
		return nil
	}
	var reasons []string
	if r.NeedsVision {
		reasons = append(reasons, "incoherent_by_llm=true")
	}
	if r.OCRQuality < e.OCRThreshold {
		reasons = append(reasons, fmt.Sprintf("low_quality=%.1f<%.1f", r.OCRQuality, e.OCRThreshold))
	}
	if !r.IsFinal && r.Confidence < e.LowConfidence {
		reasons = append(reasons, fmt.Sprintf("low_confidence=%.1f<%.1f", r.Confidence, e.LowConfidence))
	}
	return reasons
}

// Select returns at most MaxPages candidates, earliest index first. Pages past
// the cap stay eligible in later passes.
func (e EscalationConfig) Select(records []*page.Record) []Candidate {
	if !e.Enabled || e.MaxPages <= 0 {
		return nil
	}
	var out []Candidate
	for _, r := range records {
		reasons := e.Reasons(r)
		if len(reasons) == 0 {
			continue
		}
		out = append(out, Candidate{Index: r.Index, Reasons: reasons})
		if len(out) == e.MaxPages {
			break
		}
	}
	return out
}
