package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/metrics"
	"github.com/local/minutebook/internal/page"
)

// Renderer turns one page into an image for the vision model.
type Renderer interface {
	RenderPage(ctx context.Context, index int) (ai.PageImage, error)
}

// Sink observes the run. No decision depends on it.
type Sink interface {
	PassPlan(pass int, plan []blocks.Block)
	BlockPredictions(block blocks.Block, preds []ai.Prediction)
	VisionResult(block blocks.Block, pageIndex int, label string, confidence float64)
}

// Checkpointer persists page state after every pass.
type Checkpointer interface {
	SavePass(ctx context.Context, pass int, records []page.Record) error
}

type Config struct {
	MaxIterations  int
	FinalThreshold float64
	Concurrency    int
	CallTimeout    time.Duration
	MaxRestarts    int
	Escalation     EscalationConfig
}

// Dependencies are the collaborators of a Classifier. Vision, Renderer, Sink
// and Checkpoints are optional.
type Dependencies struct {
	Builder     *blocks.Builder
	Text        ai.TextClassifier
	Vision      ai.VisionClassifier
	Renderer    Renderer
	Sink        Sink
	Checkpoints Checkpointer
}

// Report summarizes a run.
type Report struct {
	Passes int
	// Stalled counts passes in which every block was rejected by an open
	// circuit breaker. They do not count toward MaxIterations.
	Stalled      int
	Restarts     int
	TotalPages   int
	FinalPages   int
	TextBlocks   int
	VisionBlocks int
	FailedBlocks int
	Retries      int
	Dropped      int
}

func (r *Report) add(o Report) {
	r.Passes += o.Passes
	r.Stalled += o.Stalled
	r.TextBlocks += o.TextBlocks
	r.VisionBlocks += o.VisionBlocks
	r.FailedBlocks += o.FailedBlocks
	r.Retries += o.Retries
	r.Dropped += o.Dropped
	r.FinalPages = o.FinalPages
	r.TotalPages = o.TotalPages
}

// Classifier runs the multi-pass classification loop. Page records are only
// mutated by the fold-in step between dispatch barriers.
type Classifier struct {
	deps Dependencies
	cfg  Config
	// totalPasses numbers passes across restarts for sinks and checkpoints.
	totalPasses int
}

func New(deps Dependencies, cfg Config) *Classifier {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	if deps.Vision == nil || deps.Renderer == nil {
		cfg.Escalation.Enabled = false
	}
	return &Classifier{deps: deps, cfg: cfg}
}

// Run executes up to MaxIterations passes over records, which must be ordered
// with records[i].Index == i. Pages still pending at the end keep their best
// known label. A pass in which the circuit breaker rejected every block is
// repeated without counting as an iteration, at most MaxIterations times per
// run.
func (c *Classifier) Run(ctx context.Context, records []*page.Record) Report {
	rep := Report{TotalPages: len(records)}

	for pass := 0; pass < c.cfg.MaxIterations; {
		if len(page.Pending(records)) == 0 {
			break
		}
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("pass", pass+1).Msg("run cancelled before pass")
			break
		}

		plan := c.plan(pass, records)
		if len(plan) == 0 {
			break
		}
		c.totalPasses++
		metrics.IncPass()
		if c.deps.Sink != nil {
			c.deps.Sink.PassPlan(c.totalPasses, plan)
		}

		start := time.Now()
		results := c.dispatch(ctx, records, plan)
		c.foldIn(records, plan, results, &rep)

		if allRejected(results) {
			rep.Stalled++
			log.Warn().
				Int("pass", c.totalPasses).
				Int("blocks", len(plan)).
				Int("stalled", rep.Stalled).
				Dur("duration", time.Since(start)).
				Msg("every block rejected by open circuit breaker, pass not counted")
			if rep.Stalled >= c.cfg.MaxIterations {
				break
			}
			continue
		}
		pass++
		rep.Passes++

		final := len(records) - len(page.Pending(records))
		metrics.SetProgress(final, len(records))
		log.Info().
			Int("pass", c.totalPasses).
			Int("blocks", len(plan)).
			Int("final_pages", final).
			Int("total_pages", len(records)).
			Dur("duration", time.Since(start)).
			Msg("pass completed")

		if c.deps.Checkpoints != nil {
			if err := c.deps.Checkpoints.SavePass(ctx, c.totalPasses, page.Snapshot(records)); err != nil {
				log.Warn().Err(err).Int("pass", c.totalPasses).Msg("checkpoint failed")
			}
		}
	}

	rep.FinalPages = len(records) - len(page.Pending(records))
	return rep
}

// RunWithRestarts wraps Run in a bounded outer loop: while pages remain
// pending and restarts are left, the loop starts over from a fresh first pass.
func (c *Classifier) RunWithRestarts(ctx context.Context, records []*page.Record) Report {
	rep := c.Run(ctx, records)
	for rep.Restarts < c.cfg.MaxRestarts && len(page.Pending(records)) > 0 && ctx.Err() == nil {
		rep.Restarts++
		log.Info().
			Int("restart", rep.Restarts).
			Int("pending", len(page.Pending(records))).
			Msg("restarting classification loop")
		rep.add(c.Run(ctx, records))
	}
	return rep
}

// plan builds the blocks of one pass. The first pass sends fixed-size text
// blocks; later passes split pages between single-page vision blocks and
// label-run text blocks that never target an escalated page.
func (c *Classifier) plan(pass int, records []*page.Record) []blocks.Block {
	if pass == 0 {
		return c.deps.Builder.Initial(records)
	}

	candidates := c.cfg.Escalation.Select(records)
	excluded := make(map[int]bool, len(candidates))
	var vision []blocks.Block
	for _, cand := range candidates {
		b, ok := c.deps.Builder.SinglePage(records, cand.Index)
		if !ok {
			continue
		}
		b.Engine = blocks.EngineVision
		b.Reasons = cand.Reasons
		vision = append(vision, b)
		excluded[cand.Index] = true
	}

	text := c.deps.Builder.ByLabelExcluding(records, excluded)
	return append(text, vision...)
}
