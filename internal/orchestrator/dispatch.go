package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/metrics"
	"github.com/local/minutebook/internal/page"
)

// blockResult is what one dispatched block produced. A nil err with no
// predictions is a valid empty answer. rejected is set when the block never
// reached the API because its circuit breaker stayed open.
type blockResult struct {
	preds    []ai.Prediction
	vision   *ai.VisionPrediction
	retries  int
	rejected bool
	err      error
}

// dispatch runs every block of the pass with at most Concurrency calls in
// flight and returns results indexed by submission order. It returns only
// when every block has completed or failed.
func (c *Classifier) dispatch(ctx context.Context, records []*page.Record, plan []blocks.Block) []blockResult {
	results := make([]blockResult, len(plan))

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for i, b := range plan {
		metrics.IncBlocks(string(b.Engine))
		g.Go(func() error {
			if b.Engine == blocks.EngineVision {
				results[i] = c.runVision(ctx, b)
			} else {
				results[i] = c.runText(ctx, b)
			}
			// failures stay in results; one block never cancels the others
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// allRejected reports whether no block of a pass reached the API.
func allRejected(results []blockResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.rejected {
			return false
		}
	}
	return true
}

func (c *Classifier) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// runText calls the text model, retrying once on a retryable failure. A call
// rejected by an open breaker first waits for the breaker's retry time, capped
// at the per-call timeout, and does not use up an attempt. That wait happens
// at most once per block.
func (c *Classifier) runText(ctx context.Context, b blocks.Block) blockResult {
	var res blockResult
	waited := false
	for attempt := 1; attempt <= 2; {
		callCtx, cancel := c.callContext(ctx)
		preds, err := c.deps.Text.ClassifyBlock(callCtx, b)
		cancel()
		if err == nil {
			res.preds, res.err = preds, nil
			return res
		}
		res.err = err

		if wait, ok := ai.RetryAfter(err, time.Now()); ok && !waited {
			waited = true
			log.Debug().
				Dur("wait", wait).
				Int("target_start", b.Target.Start).
				Int("target_end", b.Target.End).
				Msg("circuit open, waiting for retry time")
			if c.waitForBreaker(ctx, wait) {
				continue
			}
			break
		}

		if attempt == 1 && ai.IsRetryable(err) {
			attempt++
			res.retries++
			metrics.IncRetry()
			log.Warn().
				Err(err).
				Int("target_start", b.Target.Start).
				Int("target_end", b.Target.End).
				Msg("text block failed, retrying")
			continue
		}
		break
	}
	res.rejected = errors.Is(res.err, ai.ErrCircuitOpen)
	log.Warn().
		Err(res.err).
		Bool("circuit_open", res.rejected).
		Int("target_start", b.Target.Start).
		Int("target_end", b.Target.End).
		Msg("text block abandoned")
	return res
}

// waitForBreaker sleeps for wait, capped at CallTimeout. It returns false when
// ctx ends first.
func (c *Classifier) waitForBreaker(ctx context.Context, wait time.Duration) bool {
	if c.cfg.CallTimeout > 0 && wait > c.cfg.CallTimeout {
		wait = c.cfg.CallTimeout
	}
	if wait <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runVision renders the block's single target page and asks the vision
// model. Failures are not retried.
func (c *Classifier) runVision(ctx context.Context, b blocks.Block) blockResult {
	idx := b.Target.Start
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	img, err := c.deps.Renderer.RenderPage(callCtx, idx)
	if err != nil {
		log.Warn().Err(err).Int("page", idx+1).Msg("render for vision failed")
		return blockResult{err: err}
	}
	vp, err := c.deps.Vision.ClassifyImage(callCtx, img)
	if err != nil {
		log.Warn().Err(err).Int("page", idx+1).Strs("reasons", b.Reasons).Msg("vision classification failed")
		return blockResult{err: err, rejected: errors.Is(err, ai.ErrCircuitOpen)}
	}
	pi := idx
	return blockResult{
		vision: &vp,
		preds:  []ai.Prediction{{PageIndex: &pi, Label: vp.Label, Confidence: vp.Confidence}},
	}
}

// foldIn applies results in submission order. It is the only place page
// records change.
func (c *Classifier) foldIn(records []*page.Record, plan []blocks.Block, results []blockResult, rep *Report) {
	labels := c.deps.Builder.Labels()

	for i, b := range plan {
		res := results[i]
		rep.Retries += res.retries
		if b.Engine == blocks.EngineVision {
			rep.VisionBlocks++
		} else {
			rep.TextBlocks++
		}
		if res.err != nil {
			rep.FailedBlocks++
			continue
		}

		if res.vision != nil {
			idx := b.Target.Start
			if label, ok := labels.Canonicalize(res.vision.Label); ok && idx >= 0 && idx < len(records) {
				records[idx].NeedsVision = false
				if c.deps.Sink != nil {
					c.deps.Sink.VisionResult(b, idx, label, float64(res.vision.Confidence))
				}
			}
		} else if c.deps.Sink != nil && len(res.preds) > 0 {
			c.deps.Sink.BlockPredictions(b, res.preds)
		}

		for _, p := range res.preds {
			if !c.apply(records, labels, b, p) {
				rep.Dropped++
			}
		}
	}
}

// apply folds one prediction into its page and reports whether it was used.
func (c *Classifier) apply(records []*page.Record, labels page.LabelSet, b blocks.Block, p ai.Prediction) bool {
	engine := string(b.Engine)
	if p.PageIndex == nil || *p.PageIndex < 0 || *p.PageIndex >= len(records) {
		metrics.IncPrediction(engine, "dropped")
		return false
	}
	idx := *p.PageIndex
	if !b.IsTarget(idx) {
		log.Debug().Int("page", idx+1).Msg("ignoring prediction for non-target page")
		metrics.IncPrediction(engine, "dropped")
		return false
	}

	label, ok := labels.Canonicalize(p.Label)
	if !ok {
		log.Warn().Int("page", idx+1).Str("label", p.Label).Msg("ignoring unsupported label")
		metrics.IncPrediction(engine, "dropped")
		return false
	}

	r := records[idx]
	if p.TextIncoherent && !r.NeedsVision {
		log.Info().Int("page", idx+1).Msg("text flagged as incoherent, scheduling vision fallback")
	}
	outcome := r.Apply(label, float64(p.Confidence), p.TextIncoherent, c.cfg.FinalThreshold)
	metrics.IncPrediction(engine, outcome.String())
	return true
}
