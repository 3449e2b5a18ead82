package mupdf

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/page"
)

// Scorer rates extracted text quality in 0..100.
type Scorer interface {
	Score(text string) float64
}

// Extractor turns a PDF into page records with text and a quality score.
type Extractor struct {
	opener Opener
	scorer Scorer
	clean  bool
}

// NewExtractor returns an extractor backed by go-fitz. When clean is set,
// page numbers, noise lines and blank lines are stripped.
func NewExtractor(scorer Scorer, clean bool) *Extractor {
	return &Extractor{opener: FitzOpener{}, scorer: scorer, clean: clean}
}

// WithOpener swaps the document backend.
func (e *Extractor) WithOpener(o Opener) *Extractor {
	e.opener = o
	return e
}

// Extract reads every page of pdfPath in order. A page whose text cannot be
// read is kept with empty text so indices stay aligned.
func (e *Extractor) Extract(ctx context.Context, pdfPath string) ([]*page.Record, error) {
	start := time.Now()
	doc, err := e.opener.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	records := make([]*page.Record, 0, total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract text from page")
			text = ""
		}
		if e.clean {
			text = cleanText(text, i+1)
		} else {
			text = trimSpace(text)
		}

		// without a scorer every page is trusted
		rec := &page.Record{Index: i, Text: text, OCRQuality: 100}
		if e.scorer != nil {
			rec.OCRQuality = e.scorer.Score(text)
		}
		records = append(records, rec)

		log.Debug().
			Int("page", i+1).
			Int("chars", len(text)).
			Float64("quality", rec.OCRQuality).
			Msg("extracted page text")
	}

	log.Info().
		Str("pdf", pdfPath).
		Int("pages", total).
		Dur("duration", time.Since(start)).
		Msg("text extraction completed")

	return records, nil
}
