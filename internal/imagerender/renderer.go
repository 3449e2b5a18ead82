package imagerender

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/ai"
)

// Format is the encoding sent to the vision endpoint.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Options tunes page rendering.
type Options struct {
	DPI         int
	Format      Format
	Color       ColorMode
	JPEGQuality int
}

type imageDoc interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

type openFunc func(path string) (imageDoc, error)

func openFitz(path string) (imageDoc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Renderer renders pages of one PDF for the vision model. Each call opens
// the document on its own so renders can run concurrently.
type Renderer struct {
	path string
	opts Options
	open openFunc
}

func New(path string, opts Options) *Renderer {
	if opts.DPI <= 0 {
		opts.DPI = 200
	}
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.Color == "" {
		opts.Color = ColorRGB
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	return &Renderer{path: path, opts: opts, open: openFitz}
}

// RenderPage renders the 0-based page index and returns it base64 encoded.
func (r *Renderer) RenderPage(ctx context.Context, index int) (ai.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return ai.PageImage{}, err
	}

	doc, err := r.open(r.path)
	if err != nil {
		return ai.PageImage{}, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if index < 0 || index >= doc.NumPage() {
		return ai.PageImage{}, fmt.Errorf("page %d out of range (document has %d pages)", index+1, doc.NumPage())
	}

	img, err := doc.ImageDPI(index, float64(r.opts.DPI))
	if err != nil {
		return ai.PageImage{}, fmt.Errorf("failed to render page %d: %w", index+1, err)
	}

	var final image.Image = img
	if r.opts.Color == ColorGray {
		gray := image.NewGray(img.Bounds())
		draw.Draw(gray, img.Bounds(), img, image.Point{}, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	mime := "image/png"
	switch r.opts.Format {
	case FormatJPEG:
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, final, &jpeg.Options{Quality: r.opts.JPEGQuality})
	default:
		err = png.Encode(&buf, final)
	}
	if err != nil {
		return ai.PageImage{}, fmt.Errorf("failed to encode page %d: %w", index+1, err)
	}

	log.Debug().
		Int("page", index+1).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Int("bytes", buf.Len()).
		Int("dpi", r.opts.DPI).
		Str("format", string(r.opts.Format)).
		Msg("rendered page for vision")

	return ai.PageImage{
		PageIndex: index,
		MIME:      mime,
		Base64:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
