package blocks

import (
	"sort"

	"github.com/local/minutebook/internal/page"
)

// Builder turns page records into blocks for one pass.
// Records are expected to be ordered with records[i].Index == i.
type Builder struct {
	blockSize    int
	contextPages int
	labels       page.LabelSet
}

// NewBuilder clamps blockSize to at least 1 and contextPages to at least 0.
func NewBuilder(blockSize, contextPages int, labels page.LabelSet) *Builder {
	if blockSize < 1 {
		blockSize = 1
	}
	if contextPages < 0 {
		contextPages = 0
	}
	return &Builder{blockSize: blockSize, contextPages: contextPages, labels: labels}
}

func (b *Builder) BlockSize() int    { return b.blockSize }
func (b *Builder) ContextPages() int { return b.contextPages }

// Labels returns the allowed label set carried by every block.
func (b *Builder) Labels() page.LabelSet { return b.labels }

// Initial splits the non-final pages into maximal contiguous runs and chunks
// each run into blockSize pieces. Used on the first pass.
func (b *Builder) Initial(records []*page.Record) []Block {
	var idx []int
	for _, r := range records {
		if !r.IsFinal {
			idx = append(idx, r.Index)
		}
	}
	return b.fromRanges(records, contiguousRanges(idx))
}

// ByLabel groups non-final pages into runs sharing the same current label.
func (b *Builder) ByLabel(records []*page.Record) []Block {
	return b.ByLabelExcluding(records, nil)
}

// ByLabelExcluding is ByLabel with excluded indices acting as run breakers,
// so pages reserved for single-page escalation are never targeted twice.
func (b *Builder) ByLabelExcluding(records []*page.Record, excluded map[int]bool) []Block {
	var ranges []Interval
	skip := func(r *page.Record) bool { return r.IsFinal || excluded[r.Index] }

	i := 0
	for i < len(records) {
		r := records[i]
		if skip(r) {
			i++
			continue
		}
		start := i
		label := r.Label
		i++
		for i < len(records) {
			next := records[i]
			if skip(next) || next.Label != label {
				break
			}
			i++
		}
		ranges = append(ranges, Interval{Start: start, End: i - 1})
	}
	return b.fromRanges(records, ranges)
}

// SinglePage builds a block targeting exactly one page. The page stays a target
// even when it is final, since escalation may re-check settled pages; the fold-in
// still only accepts strictly higher confidence for those. The second return
// value is false when idx is out of range.
func (b *Builder) SinglePage(records []*page.Record, idx int) (Block, bool) {
	if idx < 0 || idx >= len(records) {
		return Block{}, false
	}
	return b.payload(records, idx, idx, true)
}

func (b *Builder) fromRanges(records []*page.Record, ranges []Interval) []Block {
	var out []Block
	for _, rg := range ranges {
		for start := rg.Start; start <= rg.End; {
			end := start + b.blockSize - 1
			if end > rg.End {
				end = rg.End
			}
			if blk, ok := b.payload(records, start, end, false); ok {
				out = append(out, blk)
			}
			start = end + 1
		}
	}
	return out
}

// payload expands [start, end] by contextPages on each side, clipped to the
// document. Context pages are never targets; final pages are targets only when
// forceTarget is set. A block with no target is suppressed.
func (b *Builder) payload(records []*page.Record, start, end int, forceTarget bool) (Block, bool) {
	if start < 0 {
		start = 0
	}
	if end > len(records)-1 {
		end = len(records) - 1
	}
	if start > end {
		return Block{}, false
	}

	ctxStart := start - b.contextPages
	if ctxStart < 0 {
		ctxStart = 0
	}
	ctxEnd := end + b.contextPages
	if ctxEnd > len(records)-1 {
		ctxEnd = len(records) - 1
	}

	blk := Block{
		Target:        Interval{Start: start, End: end},
		Pages:         make([]PageView, 0, ctxEnd-ctxStart+1),
		AllowedLabels: b.labels.Names(),
		Engine:        EngineText,
	}
	hasTarget := false
	for i := ctxStart; i <= ctxEnd; i++ {
		r := records[i]
		isTarget := i >= start && i <= end && (forceTarget || !r.IsFinal)
		if isTarget {
			hasTarget = true
		}
		blk.Pages = append(blk.Pages, viewOf(r, isTarget))
	}
	if !hasTarget {
		return Block{}, false
	}
	return blk, true
}

func contiguousRanges(indices []int) []Interval {
	if len(indices) == 0 {
		return nil
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	var out []Interval
	start, prev := sorted[0], sorted[0]
	for _, idx := range sorted[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		out = append(out, Interval{Start: start, End: prev})
		start, prev = idx, idx
	}
	return append(out, Interval{Start: start, End: prev})
}
