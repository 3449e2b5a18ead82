package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/page"
)

// --- fakes ---

type textFunc func(ctx context.Context, b blocks.Block) ([]ai.Prediction, error)

func (f textFunc) ClassifyBlock(ctx context.Context, b blocks.Block) ([]ai.Prediction, error) {
	return f(ctx, b)
}

type visionFunc func(ctx context.Context, img ai.PageImage) (ai.VisionPrediction, error)

func (f visionFunc) ClassifyImage(ctx context.Context, img ai.PageImage) (ai.VisionPrediction, error) {
	return f(ctx, img)
}

type fakeRenderer struct{}

func (fakeRenderer) RenderPage(_ context.Context, index int) (ai.PageImage, error) {
	return ai.PageImage{PageIndex: index, MIME: "image/png", Base64: "cG5n"}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	plans  [][]blocks.Block
	preds  []blocks.Interval
	vision []int
}

func (s *recordingSink) PassPlan(_ int, plan []blocks.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, plan)
}

func (s *recordingSink) BlockPredictions(b blocks.Block, _ []ai.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preds = append(s.preds, b.Target)
}

func (s *recordingSink) VisionResult(_ blocks.Block, idx int, _ string, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vision = append(s.vision, idx)
}

type countingCheckpointer struct{ passes []int }

func (c *countingCheckpointer) SavePass(_ context.Context, pass int, records []page.Record) error {
	c.passes = append(c.passes, pass)
	return nil
}

// --- helpers ---

func intp(i int) *int { return &i }

func newRecords(n int, quality float64) []*page.Record {
	out := make([]*page.Record, n)
	for i := range out {
		out[i] = &page.Record{Index: i, Text: "page text", OCRQuality: quality}
	}
	return out
}

func predictTargets(label string, conf float64) textFunc {
	return func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		var out []ai.Prediction
		for _, idx := range b.Targets() {
			out = append(out, ai.Prediction{PageIndex: intp(idx), Label: label, Confidence: ai.Percent(conf)})
		}
		return out, nil
	}
}

func defaultConfig() Config {
	return Config{
		MaxIterations:  3,
		FinalThreshold: 85,
		Concurrency:    4,
		CallTimeout:    time.Second,
		Escalation: EscalationConfig{
			Enabled:       true,
			OCRThreshold:  35,
			LowConfidence: 80,
			MaxPages:      40,
		},
	}
}

func newBuilder(size, ctxPages int) *blocks.Builder {
	return blocks.NewBuilder(size, ctxPages, page.NewLabelSet(page.DefaultLabels))
}

// --- tests ---

func TestRun_FirstPassFinalizesEverything(t *testing.T) {
	var mu sync.Mutex
	var targets []blocks.Interval
	inner := predictTargets("Minutes & Resolutions", 95)
	text := textFunc(func(ctx context.Context, b blocks.Block) ([]ai.Prediction, error) {
		mu.Lock()
		targets = append(targets, b.Target)
		mu.Unlock()
		return inner(ctx, b)
	})

	cp := &countingCheckpointer{}
	c := New(Dependencies{Builder: newBuilder(5, 3), Text: text, Checkpoints: cp}, defaultConfig())
	recs := newRecords(10, 90)

	rep := c.Run(context.Background(), recs)

	assert.Equal(t, 1, rep.Passes)
	assert.Equal(t, 10, rep.FinalPages)
	assert.Equal(t, 2, rep.TextBlocks)
	assert.ElementsMatch(t, []blocks.Interval{{Start: 0, End: 4}, {Start: 5, End: 9}}, targets)
	assert.Equal(t, []int{1}, cp.passes)
	for _, r := range recs {
		assert.True(t, r.IsFinal)
		assert.Equal(t, "Minutes & Resolutions", r.Label)
	}
}

func TestRun_RetriesOnceOnMalformed(t *testing.T) {
	var calls atomic.Int32
	ok := predictTargets("By Laws", 90)
	text := textFunc(func(ctx context.Context, b blocks.Block) ([]ai.Prediction, error) {
		if calls.Add(1) == 1 {
			return nil, ai.ErrMalformedResponse
		}
		return ok(ctx, b)
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: text}, cfg)
	recs := newRecords(3, 90)

	rep := c.Run(context.Background(), recs)

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, rep.Retries)
	assert.Zero(t, rep.FailedBlocks)
	assert.Equal(t, 3, rep.FinalPages)
}

func TestRun_FatalErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	text := textFunc(func(context.Context, blocks.Block) ([]ai.Prediction, error) {
		calls.Add(1)
		return nil, &ai.HTTPError{StatusCode: 401, Endpoint: "ask"}
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: text}, cfg)
	recs := newRecords(3, 90)

	rep := c.Run(context.Background(), recs)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, rep.FailedBlocks)
	for _, r := range recs {
		assert.False(t, r.HasLabel(), "failed block must leave pages untouched")
	}
}

func TestRun_TransientErrorAbandonedAfterRetry(t *testing.T) {
	var calls atomic.Int32
	text := textFunc(func(context.Context, blocks.Block) ([]ai.Prediction, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: text}, cfg)

	rep := c.Run(context.Background(), newRecords(2, 90))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, rep.FailedBlocks)
	assert.Zero(t, rep.FinalPages)
}

func TestRun_DropsInvalidPredictions(t *testing.T) {
	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		if b.Target.Start != 0 {
			return nil, nil
		}
		return []ai.Prediction{
			{PageIndex: nil, Label: "By Laws", Confidence: 90},
			{PageIndex: intp(99), Label: "By Laws", Confidence: 90},
			{PageIndex: intp(6), Label: "By Laws", Confidence: 90}, // context page
			{PageIndex: intp(1), Label: "Bogus Register", Confidence: 90},
			{PageIndex: intp(0), Label: "Label: Minutes & Resolutions.", Confidence: 70},
			{PageIndex: intp(2), Label: "By Laws", Confidence: 150},
		}, nil
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(5, 2), Text: text}, cfg)
	recs := newRecords(10, 90)

	rep := c.Run(context.Background(), recs)

	assert.Equal(t, 4, rep.Dropped)
	assert.Equal(t, "Minutes & Resolutions", recs[0].Label)
	assert.False(t, recs[0].IsFinal)
	assert.False(t, recs[1].HasLabel())
	assert.False(t, recs[6].HasLabel())
	assert.Equal(t, 100.0, recs[2].Confidence)
	assert.True(t, recs[2].IsFinal)
}

func TestRun_FinalPageKeepsHigherConfidence(t *testing.T) {
	recs := newRecords(5, 90)
	recs[3].Label, recs[3].Confidence, recs[3].IsFinal = "By Laws", 90, true

	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		// page 3 is only context in these blocks, so its prediction is ignored
		return []ai.Prediction{
			{PageIndex: intp(3), Label: "Share Certificates", Confidence: 80},
			{PageIndex: intp(0), Label: "By Laws", Confidence: 90},
		}, nil
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(10, 3), Text: text}, cfg)
	c.Run(context.Background(), recs)

	assert.Equal(t, "By Laws", recs[3].Label)
	assert.Equal(t, 90.0, recs[3].Confidence)
	assert.True(t, recs[3].IsFinal)
}

func TestRun_IncoherentFinalPageIsEscalated(t *testing.T) {
	recs := newRecords(10, 90)

	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		var out []ai.Prediction
		for _, idx := range b.Targets() {
			p := ai.Prediction{PageIndex: intp(idx), Label: "Minutes & Resolutions", Confidence: 90}
			switch idx {
			case 7:
				p.Confidence, p.TextIncoherent = 95, true
			case 2:
				p.Confidence = 50
			}
			out = append(out, p)
		}
		return out, nil
	})

	var visionCalls sync.Map
	vision := visionFunc(func(_ context.Context, img ai.PageImage) (ai.VisionPrediction, error) {
		visionCalls.Store(img.PageIndex, true)
		if img.PageIndex == 7 {
			return ai.VisionPrediction{Label: "Directors Register", Confidence: 70}, nil
		}
		return ai.VisionPrediction{Label: "Minutes & Resolutions", Confidence: 88}, nil
	})

	sink := &recordingSink{}
	c := New(Dependencies{
		Builder:  newBuilder(10, 3),
		Text:     text,
		Vision:   vision,
		Renderer: fakeRenderer{},
		Sink:     sink,
	}, defaultConfig())

	// first pass alone leaves page 7 final and still flagged
	first := New(Dependencies{Builder: newBuilder(10, 3), Text: text}, Config{MaxIterations: 1, FinalThreshold: 85, Concurrency: 1})
	first.Run(context.Background(), recs)
	require.True(t, recs[7].IsFinal)
	require.True(t, recs[7].NeedsVision)
	require.False(t, recs[2].IsFinal)

	rep := c.Run(context.Background(), recs)

	_, saw7 := visionCalls.Load(7)
	_, saw2 := visionCalls.Load(2)
	assert.True(t, saw7, "final page with incoherent text goes to vision")
	assert.True(t, saw2)
	assert.Equal(t, 2, rep.VisionBlocks)

	assert.False(t, recs[7].NeedsVision, "vision answer clears the flag")
	assert.Equal(t, "Minutes & Resolutions", recs[7].Label, "lower vision confidence does not beat the floor")
	assert.Equal(t, 95.0, recs[7].Confidence)
	assert.True(t, recs[2].IsFinal)
	assert.ElementsMatch(t, []int{2, 7}, sink.vision)
}

func TestRun_EscalationCapAndDisjointTargets(t *testing.T) {
	recs := newRecords(10, 10) // every page below the quality threshold
	var visionCalls atomic.Int32
	vision := visionFunc(func(context.Context, ai.PageImage) (ai.VisionPrediction, error) {
		visionCalls.Add(1)
		return ai.VisionPrediction{}, errors.New("vision down")
	})

	cfg := defaultConfig()
	cfg.Escalation.MaxPages = 3
	sink := &recordingSink{}
	c := New(Dependencies{
		Builder:  newBuilder(4, 1),
		Text:     predictTargets("Minutes & Resolutions", 50),
		Vision:   vision,
		Renderer: fakeRenderer{},
		Sink:     sink,
	}, cfg)

	rep := c.Run(context.Background(), recs)
	require.Len(t, sink.plans, 3)

	for pass, plan := range sink.plans {
		var nVision int
		for i, b := range plan {
			if b.Engine == blocks.EngineVision {
				nVision++
				assert.Equal(t, 1, b.Target.Len())
				assert.NotEmpty(t, b.Reasons)
			}
			for _, other := range plan[i+1:] {
				assert.False(t, b.Target.Overlaps(other.Target), "pass %d: %v overlaps %v", pass+1, b.Target, other.Target)
			}
		}
		assert.LessOrEqual(t, nVision, 3)
	}

	// failed vision calls keep pages 0..2 first in line
	var later []int
	for _, b := range sink.plans[2] {
		if b.Engine == blocks.EngineVision {
			later = append(later, b.Target.Start)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, later)
	assert.EqualValues(t, 6, visionCalls.Load())
	assert.Equal(t, 6, rep.FailedBlocks)
}

func TestRun_NoVisionClientFallsBackToText(t *testing.T) {
	recs := newRecords(4, 0)
	sink := &recordingSink{}
	cfg := defaultConfig()
	cfg.MaxIterations = 2
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: predictTargets("By Laws", 60), Sink: sink}, cfg)

	c.Run(context.Background(), recs)
	require.Len(t, sink.plans, 2)
	for _, b := range sink.plans[1] {
		assert.Equal(t, blocks.EngineText, b.Engine)
	}
}

func TestRun_BudgetExhaustedKeepsBestLabel(t *testing.T) {
	recs := newRecords(6, 90)
	var calls atomic.Int32
	inner := predictTargets("Shareholder Register", 60)
	text := textFunc(func(ctx context.Context, b blocks.Block) ([]ai.Prediction, error) {
		calls.Add(1)
		return inner(ctx, b)
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 2
	cfg.Escalation.Enabled = false
	c := New(Dependencies{Builder: newBuilder(3, 1), Text: text}, cfg)

	rep := c.Run(context.Background(), recs)

	assert.Equal(t, 2, rep.Passes)
	assert.Zero(t, rep.FinalPages)
	// pass 0: two chunks of 3; pass 1: one label run of 6 chunked to 3+3
	assert.EqualValues(t, 4, calls.Load())
	for _, r := range recs {
		assert.Equal(t, "Shareholder Register", r.Label)
		assert.False(t, r.IsFinal)
	}
}

func TestRun_FoldInFollowsSubmissionOrder(t *testing.T) {
	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		if b.Target.Start == 0 {
			time.Sleep(50 * time.Millisecond)
		}
		return []ai.Prediction{{PageIndex: intp(b.Target.Start), Label: "By Laws", Confidence: 90}}, nil
	})

	sink := &recordingSink{}
	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(1, 0), Text: text, Sink: sink}, cfg)
	c.Run(context.Background(), newRecords(3, 90))

	assert.Equal(t, []blocks.Interval{{Start: 0, End: 0}, {Start: 1, End: 1}, {Start: 2, End: 2}}, sink.preds)
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	var inflight, peak atomic.Int32
	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return nil, nil
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	cfg.Concurrency = 3
	c := New(Dependencies{Builder: newBuilder(1, 0), Text: text}, cfg)
	c.Run(context.Background(), newRecords(9, 90))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestApply_ConfidenceMonotonicOnceFinal(t *testing.T) {
	recs := newRecords(3, 90)
	c := New(Dependencies{Builder: newBuilder(10, 1)}, defaultConfig())
	labels := c.deps.Builder.Labels()

	maxSeen := 0.0
	for _, conf := range []float64{60, 90, 70, 95, 60, 85} {
		b, ok := c.deps.Builder.SinglePage(recs, 1)
		require.True(t, ok)
		require.True(t, c.apply(recs, labels, b, ai.Prediction{PageIndex: intp(1), Label: "By Laws", Confidence: ai.Percent(conf)}))
		maxSeen = max(maxSeen, conf)
		if recs[1].IsFinal {
			assert.Equal(t, maxSeen, recs[1].Confidence)
		}
	}
	assert.Equal(t, 95.0, recs[1].Confidence)
}

func TestRunWithRestarts(t *testing.T) {
	var calls atomic.Int32
	text := textFunc(func(_ context.Context, b blocks.Block) ([]ai.Prediction, error) {
		conf := 50.0
		if calls.Add(1) > 1 {
			conf = 90
		}
		var out []ai.Prediction
		for _, idx := range b.Targets() {
			out = append(out, ai.Prediction{PageIndex: intp(idx), Label: "Officers Register", Confidence: ai.Percent(conf)})
		}
		return out, nil
	})

	cfg := defaultConfig()
	cfg.MaxIterations = 1
	cfg.MaxRestarts = 2
	cp := &countingCheckpointer{}
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: text, Checkpoints: cp}, cfg)
	recs := newRecords(4, 90)

	rep := c.RunWithRestarts(context.Background(), recs)

	assert.Equal(t, 1, rep.Restarts)
	assert.Equal(t, 2, rep.Passes)
	assert.Equal(t, 4, rep.FinalPages)
	assert.Equal(t, []int{1, 2}, cp.passes, "pass numbers continue across restarts")
}

func TestRunWithRestarts_ZeroRestarts(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxIterations = 1
	c := New(Dependencies{Builder: newBuilder(10, 0), Text: predictTargets("By Laws", 10)}, cfg)

	rep := c.RunWithRestarts(context.Background(), newRecords(3, 90))
	assert.Zero(t, rep.Restarts)
	assert.Equal(t, 1, rep.Passes)
}
