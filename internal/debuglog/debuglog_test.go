package debuglog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
)

func block(ctxStart, ctxEnd, start, end int) blocks.Block {
	b := blocks.Block{Target: blocks.Interval{Start: start, End: end}, Engine: blocks.EngineText}
	for i := ctxStart; i <= ctxEnd; i++ {
		b.Pages = append(b.Pages, blocks.PageView{Index: i, IsTarget: i >= start && i <= end})
	}
	return b
}

func idx(i int) *int { return &i }

func TestPassPlan(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New("", &buf)
	require.NoError(t, err)

	v := block(4, 10, 7, 7)
	v.Engine = blocks.EngineVision
	tr.PassPlan(2, []blocks.Block{block(0, 6, 0, 3), v})

	want := "######## PASS 2 ########\n" +
		"- Block 1: Context (0 - 6) Target (0 - 3)\n" +
		"- Block 2: Context (4 - 10) Target (7 - 7) VISION\n\n"
	assert.Equal(t, want, buf.String())
}

func TestBlockPredictions_SortedByPage(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New("", &buf)
	require.NoError(t, err)

	tr.BlockPredictions(block(0, 4, 0, 1), []ai.Prediction{
		{PageIndex: idx(1), Label: "Minutes", Confidence: 72.5},
		{PageIndex: idx(0), Label: "By-Laws", Confidence: 90},
	})

	want := separator + "\n" +
		"Contexte (0 - 4)\n" +
		"Bloc (0 - 1)\n\n" +
		"Page 0 : Label : By-Laws --- Confidence : 90.00\n" +
		"Page 1 : Label : Minutes --- Confidence : 72.50\n" +
		"\n" + separator + "\n\n"
	assert.Equal(t, want, buf.String())
}

func TestVisionResult(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New("", &buf)
	require.NoError(t, err)

	b := block(9, 15, 12, 12)
	b.Reasons = []string{"incoherent_by_llm=true", "low_quality=20.0<35.0"}
	tr.VisionResult(b, 12, "Share Register", 88)

	out := buf.String()
	assert.Contains(t, out, "USED VISION\nReason : incoherent_by_llm=true, low_quality=20.0<35.0\n\n")
	assert.Contains(t, out, "Page 12 : Label : Share Register --- Confidence : 88.00\n")

	buf.Reset()
	tr.VisionResult(block(0, 0, 0, 0), 0, "Minutes", 81)
	assert.Contains(t, buf.String(), "Reason : N/A\n")
}

func TestFileIsReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale run\n"), 0o644))

	tr, err := New(path, nil)
	require.NoError(t, err)
	tr.PassPlan(1, nil)
	require.NoError(t, tr.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "######## PASS 1 ########\n\n", string(got))
}
