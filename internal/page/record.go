package page

// Record is the per-page classification state. Records are created once at
// extraction time and afterwards mutated only by the orchestrator between passes.
type Record struct {
	Index       int
	Text        string
	Label       string // empty when unset
	Confidence  float64
	IsFinal     bool
	OCRQuality  float64
	NeedsVision bool
}

// Outcome describes what Apply did with a prediction.
type Outcome int

const (
	// Updated means label and confidence were overwritten.
	Updated Outcome = iota
	// Finalized means the update crossed the final threshold.
	Finalized
	// KeptFinal means the page was already final and the new confidence did not beat it.
	KeptFinal
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Finalized:
		return "finalized"
	case KeptFinal:
		return "kept_final"
	default:
		return "unknown"
	}
}

// HasLabel reports whether a label has been assigned.
func (r *Record) HasLabel() bool { return r.Label != "" }

// Apply folds one canonical prediction into the record.
//
// An incoherent flag always sets NeedsVision, independently of the label update.
// A final page only accepts a strictly higher confidence. Reaching finalThreshold
// marks the page final and clears NeedsVision unless this same prediction flagged
// the text as incoherent.
func (r *Record) Apply(label string, confidence float64, incoherent bool, finalThreshold float64) Outcome {
	confidence = clampConfidence(confidence)
	if incoherent {
		r.NeedsVision = true
	}
	if r.IsFinal && confidence <= r.Confidence {
		return KeptFinal
	}

	r.Label = label
	r.Confidence = confidence
	if confidence >= finalThreshold {
		wasFinal := r.IsFinal
		r.IsFinal = true
		if !incoherent {
			r.NeedsVision = false
		}
		if !wasFinal {
			return Finalized
		}
	}
	return Updated
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Pending returns the records that are not final yet, in index order.
func Pending(records []*Record) []*Record {
	var out []*Record
	for _, r := range records {
		if !r.IsFinal {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot copies the record values so callers can inspect state without
// holding on to the orchestrator's pointers.
func Snapshot(records []*Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = *r
	}
	return out
}
