package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// ErrNotPDF is returned when the input's magic bytes are not a PDF.
var ErrNotPDF = errors.New("input is not a PDF")

const pdfMIME = "application/pdf"

// Downloader fetches s3:// references to a local temp file.
type Downloader interface {
	DownloadToTemp(ctx context.Context, url string) (string, error)
}

// Document is a resolved local PDF.
type Document struct {
	Ref  string
	Path string

	// Pages is the pdfcpu page count, 0 when pdfcpu could not read the file.
	Pages int
	temp  bool
}

// Close removes the local copy when it was downloaded.
func (d *Document) Close() error {
	if d == nil || !d.temp {
		return nil
	}
	return os.Remove(d.Path)
}

// Resolver turns an input reference into a local PDF. Supported refs:
// filesystem paths, file://path, http(s):// URLs and s3://bucket/key.
type Resolver struct {
	s3   Downloader
	http *http.Client
}

// NewResolver returns a resolver. s3 may be nil, in which case s3:// refs fail.
func NewResolver(s3 Downloader, client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{s3: s3, http: client}
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (*Document, error) {
	// strip optional #page fragment
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}

	doc := &Document{Ref: ref}
	var err error

	switch {
	case strings.HasPrefix(ref, "s3://"):
		if r.s3 == nil {
			return nil, fmt.Errorf("s3 input %s: no S3 client configured", ref)
		}
		doc.Path, err = r.s3.DownloadToTemp(ctx, ref)
		doc.temp = true
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		doc.Path, err = r.downloadHTTP(ctx, ref)
		doc.temp = true
	case strings.HasPrefix(ref, "file://"):
		doc.Path = strings.TrimPrefix(ref, "file://")
	default:
		doc.Path = ref
	}
	if err != nil {
		return nil, err
	}

	if err := checkPDF(doc.Path); err != nil {
		doc.Close()
		return nil, err
	}

	n, err := pageCount(doc.Path)
	if err != nil {
		log.Warn().Err(err).Str("file", doc.Path).Msg("pdfcpu page count failed")
	} else {
		doc.Pages = n
	}

	log.Debug().Str("ref", ref).Str("file", doc.Path).Int("pages", doc.Pages).Msg("resolved input")
	return doc, nil
}

// pageCount asks pdfcpu for the page count. pdfcpu panics on some damaged
// cross-reference tables that mupdf still repairs.
func pageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	return api.PageCountFile(path)
}

func checkPDF(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mtype.Is(pdfMIME) {
		return fmt.Errorf("%w: detected %s", ErrNotPDF, mtype.String())
	}
	return nil
}

func (r *Resolver) downloadHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "pdfdl-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
