package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/logger"
	"github.com/local/minutebook/internal/orchestrator"
	"github.com/local/minutebook/internal/page"
	"github.com/local/minutebook/internal/sections"
	"github.com/local/minutebook/internal/source"
	"github.com/local/minutebook/internal/store"
)

// ErrNoPages is returned when extraction yields no page at all.
var ErrNoPages = errors.New("no pages extracted from PDF")

type Resolver interface {
	Resolve(ctx context.Context, ref string) (*source.Document, error)
}

type Extractor interface {
	Extract(ctx context.Context, pdfPath string) ([]*page.Record, error)
}

type Writer interface {
	Write(ctx context.Context, dest string, secs []sections.Section) (string, error)
}

// RunStore persists checkpoints, status and results of one run.
type RunStore interface {
	orchestrator.Checkpointer
	SetStatus(ctx context.Context, st store.Status) error
	SaveSections(ctx context.Context, secs []sections.Section) error
}

// Dependencies wires the pipeline. Vision, Renderer, Sink, Store and Requests
// are optional.
type Dependencies struct {
	Resolver  Resolver
	Extractor Extractor
	Builder   *blocks.Builder
	Text      ai.TextClassifier
	Vision    ai.VisionClassifier
	// Renderer opens a page renderer for the resolved local PDF.
	Renderer func(pdfPath string) orchestrator.Renderer
	Sink     orchestrator.Sink
	Writer   Writer
	Store    func(runID string) RunStore
	// Requests reports the collaborator request counter.
	Requests func() int64
}

// Summary is what a run reports back.
type Summary struct {
	RunID      string
	Input      string
	Output     string
	TotalPages int
	Sections   []sections.Section
	// Gaps are 1-based page numbers left without a label.
	Gaps     []int
	Requests int64
	Duration time.Duration
	Report   orchestrator.Report
}

// Print writes the run summary shown at the end of a CLI run.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "Minute book classification complete.")
	fmt.Fprintf(w, "Total pages: %d\n", s.TotalPages)
	fmt.Fprintf(w, "Sections found: %d\n", len(s.Sections))
	fmt.Fprintf(w, "LLM requests: %d\n", s.Requests)
	fmt.Fprintf(w, "Results written to: %s\n", s.Output)
	fmt.Fprintf(w, "Elapsed time: %.2fs\n", s.Duration.Seconds())
}

// Splitter runs one minute book through extraction, classification and
// section aggregation.
type Splitter struct {
	deps Dependencies
	cfg  orchestrator.Config
}

func New(deps Dependencies, cfg orchestrator.Config) *Splitter {
	return &Splitter{deps: deps, cfg: cfg}
}

// Run splits the PDF referenced by input and writes the sections to output.
func (s *Splitter) Run(ctx context.Context, input, output string) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Input: input}
	lg := logger.ForRun(sum.RunID, input)

	var rs RunStore
	if s.deps.Store != nil {
		rs = s.deps.Store(sum.RunID)
	}
	setStatus := func(st store.Status) {
		if rs == nil {
			return
		}
		st.Input = input
		if err := rs.SetStatus(ctx, st); err != nil {
			lg.Warn().Err(err).Str("state", st.State).Msg("failed to update run status")
		}
	}
	fail := func(err error) (Summary, error) {
		end := time.Now()
		setStatus(store.Status{State: store.StateFailed, Message: err.Error(), Start: &start, End: &end})
		sum.Duration = time.Since(start)
		return sum, err
	}

	setStatus(store.Status{State: store.StateRunning, Start: &start})
	var requestsBefore int64
	if s.deps.Requests != nil {
		requestsBefore = s.deps.Requests()
	}

	doc, err := s.deps.Resolver.Resolve(ctx, input)
	if err != nil {
		return fail(fmt.Errorf("resolve input: %w", err))
	}
	defer func() {
		if err := doc.Close(); err != nil {
			lg.Warn().Err(err).Str("file", doc.Path).Msg("failed to remove temp input")
		}
	}()

	records, err := s.deps.Extractor.Extract(ctx, doc.Path)
	if err != nil {
		return fail(fmt.Errorf("extract text: %w", err))
	}
	if len(records) == 0 {
		return fail(ErrNoPages)
	}
	if doc.Pages > 0 && doc.Pages != len(records) {
		lg.Warn().Int("pdfcpu_pages", doc.Pages).Int("extracted_pages", len(records)).Msg("page count mismatch")
	}
	sum.TotalPages = len(records)
	lg.Info().Str("input", input).Int("pages", len(records)).Msg("starting classification")

	deps := orchestrator.Dependencies{
		Builder: s.deps.Builder,
		Text:    s.deps.Text,
		Vision:  s.deps.Vision,
		Sink:    s.deps.Sink,
	}
	if s.deps.Renderer != nil {
		deps.Renderer = s.deps.Renderer(doc.Path)
	}
	if rs != nil {
		deps.Checkpoints = rs
	}
	sum.Report = orchestrator.New(deps, s.cfg).RunWithRestarts(ctx, records)

	snap := page.Snapshot(records)
	sum.Sections = sections.Aggregate(snap)
	sum.Gaps = sections.Gaps(snap)
	if len(sum.Gaps) > 0 {
		lg.Warn().Ints("pages", sum.Gaps).Msg("pages left without a label")
	}

	sum.Output, err = s.deps.Writer.Write(ctx, output, sum.Sections)
	if err != nil {
		return fail(fmt.Errorf("write result: %w", err))
	}
	if rs != nil {
		if err := rs.SaveSections(ctx, sum.Sections); err != nil {
			lg.Warn().Err(err).Msg("failed to store sections")
		}
	}

	if s.deps.Requests != nil {
		sum.Requests = s.deps.Requests() - requestsBefore
	}
	sum.Duration = time.Since(start)

	end := time.Now()
	setStatus(store.Status{
		State:      store.StateDone,
		Pass:       sum.Report.Passes,
		FinalPages: sum.Report.FinalPages,
		TotalPages: sum.TotalPages,
		Start:      &start,
		End:        &end,
	})

	lg.Info().
		Int("pages", sum.TotalPages).
		Int("final_pages", sum.Report.FinalPages).
		Int("sections", len(sum.Sections)).
		Int("passes", sum.Report.Passes).
		Int("stalled_passes", sum.Report.Stalled).
		Int("restarts", sum.Report.Restarts).
		Int("vision_blocks", sum.Report.VisionBlocks).
		Int("failed_blocks", sum.Report.FailedBlocks).
		Int64("requests", sum.Requests).
		Dur("duration", sum.Duration).
		Msg("run completed")

	return sum, nil
}
