package debuglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
)

var separator = strings.Repeat("=", 43)

// Trace writes a human-readable classification trace: the block plan of every
// pass, the predictions returned for every text block and the outcome of every
// vision escalation. It implements orchestrator.Sink.
type Trace struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
}

// New returns a trace that writes to echo (may be nil) and, when path is not
// empty, to a file truncated at creation.
func New(path string, echo io.Writer) (*Trace, error) {
	t := &Trace{}
	var writers []io.Writer
	if echo != nil {
		writers = append(writers, echo)
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create debug log dir: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create debug log: %w", err)
		}
		t.file = f
		writers = append(writers, f)
	}
	t.out = io.MultiWriter(writers...)
	return t, nil
}

func (t *Trace) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *Trace) PassPlan(pass int, plan []blocks.Block) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "######## PASS %d ########\n", pass)
	vision := 0
	for i, b := range plan {
		suffix := ""
		if b.Engine == blocks.EngineVision {
			suffix = " VISION"
			vision++
		}
		fmt.Fprintf(&sb, "- Block %d: Context (%s) Target (%d - %d)%s\n",
			i+1, contextSpan(b), b.Target.Start, b.Target.End, suffix)
	}
	sb.WriteString("\n")
	t.write(sb.String())

	log.Debug().Int("pass", pass).Int("blocks", len(plan)).Int("vision_blocks", vision).Msg("pass plan")
}

func (t *Trace) BlockPredictions(b blocks.Block, preds []ai.Prediction) {
	sorted := make([]ai.Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool { return predIndex(sorted[i]) < predIndex(sorted[j]) })

	var sb strings.Builder
	writeHeader(&sb, b)
	for _, p := range sorted {
		idx := "UNKNOWN"
		if p.PageIndex != nil {
			idx = fmt.Sprint(*p.PageIndex)
		}
		label := p.Label
		if label == "" {
			label = "UNKNOWN"
		}
		fmt.Fprintf(&sb, "Page %s : Label : %s --- Confidence : %.2f\n", idx, label, float64(p.Confidence))
	}
	writeFooter(&sb)
	t.write(sb.String())
}

func (t *Trace) VisionResult(b blocks.Block, pageIndex int, label string, confidence float64) {
	reasons := "N/A"
	if len(b.Reasons) > 0 {
		reasons = strings.Join(b.Reasons, ", ")
	}

	var sb strings.Builder
	writeHeader(&sb, b)
	sb.WriteString("USED VISION\n")
	fmt.Fprintf(&sb, "Reason : %s\n\n", reasons)
	fmt.Fprintf(&sb, "Page %d : Label : %s --- Confidence : %.2f\n", pageIndex, label, confidence)
	writeFooter(&sb)
	t.write(sb.String())

	log.Debug().
		Int("page", pageIndex+1).
		Str("label", label).
		Float64("confidence", confidence).
		Strs("reasons", b.Reasons).
		Msg("vision result")
}

func (t *Trace) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.out, s); err != nil {
		log.Warn().Err(err).Msg("debug trace write failed")
	}
}

func writeHeader(sb *strings.Builder, b blocks.Block) {
	sb.WriteString(separator + "\n")
	fmt.Fprintf(sb, "Contexte (%s)\n", contextSpan(b))
	fmt.Fprintf(sb, "Bloc (%d - %d)\n\n", b.Target.Start, b.Target.End)
}

func writeFooter(sb *strings.Builder) {
	sb.WriteString("\n" + separator + "\n\n")
}

func contextSpan(b blocks.Block) string {
	start, end, ok := b.ContextSpan()
	if !ok {
		return "None - None"
	}
	return fmt.Sprintf("%d - %d", start, end)
}

func predIndex(p ai.Prediction) int {
	if p.PageIndex == nil {
		return 0
	}
	return *p.PageIndex
}
