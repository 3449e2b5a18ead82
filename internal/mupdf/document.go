package mupdf

import (
	fitz "github.com/gen2brain/go-fitz"
)

// Doc abstracts an open PDF for text extraction.
type Doc interface {
	NumPage() int
	Text(pageIndex int) (string, error)
	Close() error
}

// Opener opens a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// FitzOpener opens documents with go-fitz (embedded MuPDF, no external tools needed).
type FitzOpener struct{}

func (FitzOpener) Open(path string) (Doc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
