package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/local/minutebook/internal/blocks"
)

// Percent is a confidence in 0..100. Models sometimes quote numbers, so both
// 87 and "87" decode.
type Percent float64

func (p *Percent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = Percent(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = Percent(f)
	return nil
}

// Prediction is one page verdict from the text model. PageIndex is nil when
// the model omitted it.
type Prediction struct {
	PageIndex      *int    `json:"pageIndex"`
	Label          string  `json:"label"`
	Confidence     Percent `json:"confidencePercent"`
	TextIncoherent bool    `json:"isTextIncoherent"`
}

// VisionPrediction is the vision model's verdict for one page image.
type VisionPrediction struct {
	Label      string  `json:"label"`
	Confidence Percent `json:"confidencePercent"`
}

// PageImage is a rendered page ready for the vision endpoint.
type PageImage struct {
	PageIndex int
	MIME      string
	Base64    string
}

// TextClassifier labels the target pages of a block.
type TextClassifier interface {
	ClassifyBlock(ctx context.Context, block blocks.Block) ([]Prediction, error)
}

// VisionClassifier labels a single page from its image.
type VisionClassifier interface {
	ClassifyImage(ctx context.Context, img PageImage) (VisionPrediction, error)
}
