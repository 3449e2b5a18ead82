package page_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minutebook/internal/page"
)

func TestLabelSet_Canonicalize(t *testing.T) {
	ls := page.NewLabelSet(page.DefaultLabels)

	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "exact", raw: "Directors Register", want: "Directors Register", wantOK: true},
		{name: "exact with whitespace", raw: "  By Laws\n", want: "By Laws", wantOK: true},
		{name: "case and punctuation", raw: "minutes and resolutions", wantOK: false},
		{name: "ampersand dropped", raw: "MINUTES & RESOLUTIONS", want: "Minutes & Resolutions", wantOK: true},
		{name: "hyphenated", raw: "By-Laws", want: "By Laws", wantOK: true},
		{name: "containment", raw: "Section: Share Certificates (scanned)", want: "Share Certificates", wantOK: true},
		{name: "first allowed in set order wins", raw: "Directors Register / Officers Register", want: "Directors Register", wantOK: true},
		{name: "unknown", raw: "Financial Statements", wantOK: false},
		{name: "empty", raw: "", wantOK: false},
		{name: "punctuation only", raw: "&&--", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ls.Canonicalize(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLabelSet_DropsBlanksAndDuplicates(t *testing.T) {
	ls := page.NewLabelSet([]string{"A", " ", "B", "A"})
	assert.Equal(t, []string{"A", "B"}, ls.Names())
	assert.Equal(t, 2, ls.Len())

	names := ls.Names()
	names[0] = "mutated"
	assert.Equal(t, "A", ls.Names()[0], "Names must return a copy")
}

func TestRecord_Apply(t *testing.T) {
	const final = 85.0

	t.Run("non-final page takes any confidence", func(t *testing.T) {
		r := &page.Record{Index: 0, Label: "By Laws", Confidence: 70}
		out := r.Apply("Minutes & Resolutions", 40, false, final)
		assert.Equal(t, page.Updated, out)
		assert.Equal(t, "Minutes & Resolutions", r.Label)
		assert.Equal(t, 40.0, r.Confidence)
		assert.False(t, r.IsFinal)
	})

	t.Run("final page keeps label on lower confidence", func(t *testing.T) {
		r := &page.Record{Index: 3, Label: "By Laws", Confidence: 90, IsFinal: true}
		out := r.Apply("Directors Register", 80, false, final)
		assert.Equal(t, page.KeptFinal, out)
		assert.Equal(t, "By Laws", r.Label)
		assert.Equal(t, 90.0, r.Confidence)
	})

	t.Run("final page keeps label on equal confidence", func(t *testing.T) {
		r := &page.Record{Label: "By Laws", Confidence: 90, IsFinal: true}
		assert.Equal(t, page.KeptFinal, r.Apply("Directors Register", 90, false, final))
		assert.Equal(t, "By Laws", r.Label)
	})

	t.Run("final page accepts strictly higher confidence", func(t *testing.T) {
		r := &page.Record{Label: "By Laws", Confidence: 90, IsFinal: true}
		out := r.Apply("Directors Register", 95, false, final)
		assert.Equal(t, page.Updated, out)
		assert.Equal(t, "Directors Register", r.Label)
		assert.True(t, r.IsFinal)
	})

	t.Run("reaching threshold finalizes and clears vision flag", func(t *testing.T) {
		r := &page.Record{NeedsVision: true}
		out := r.Apply("Share Certificates", 85, false, final)
		assert.Equal(t, page.Finalized, out)
		assert.True(t, r.IsFinal)
		assert.False(t, r.NeedsVision)
	})

	t.Run("incoherent and confident sets both", func(t *testing.T) {
		r := &page.Record{Index: 7}
		out := r.Apply("Minutes & Resolutions", 95, true, final)
		assert.Equal(t, page.Finalized, out)
		assert.True(t, r.IsFinal)
		assert.True(t, r.NeedsVision)
		assert.Equal(t, "Minutes & Resolutions", r.Label)
	})

	t.Run("incoherent flag is set even when update is skipped", func(t *testing.T) {
		r := &page.Record{Label: "By Laws", Confidence: 99, IsFinal: true}
		assert.Equal(t, page.KeptFinal, r.Apply("By Laws", 50, true, final))
		assert.True(t, r.NeedsVision)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		r := &page.Record{}
		r.Apply("By Laws", 140, false, final)
		assert.Equal(t, 100.0, r.Confidence)
	})
}

func TestRecord_ConfidenceIsMonotonicOnceFinal(t *testing.T) {
	r := &page.Record{}
	observed := []float64{30, 60, 88, 70, 92, 91, 40}
	maxSeen := 0.0
	for _, c := range observed {
		r.Apply("By Laws", c, false, 85)
		if c > maxSeen {
			maxSeen = c
		}
		if r.IsFinal {
			require.Equal(t, maxSeen, r.Confidence)
		}
	}
	assert.Equal(t, 92.0, r.Confidence)
}

func TestPendingAndSnapshot(t *testing.T) {
	records := []*page.Record{
		{Index: 0, IsFinal: true},
		{Index: 1},
		{Index: 2},
	}
	pending := page.Pending(records)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Index)

	snap := page.Snapshot(records)
	records[1].Label = "changed"
	assert.Empty(t, snap[1].Label)
}
