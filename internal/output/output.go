package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/sections"
)

// Uploader stores bytes at an s3:// URL.
type Uploader interface {
	Upload(ctx context.Context, url, contentType string, data []byte) error
}

// Document is the result file layout.
type Document struct {
	Sections []sections.Section `json:"sections"`
}

// Writer saves results to a local path or an s3:// URL.
type Writer struct {
	s3 Uploader
}

// NewWriter returns a writer. s3 may be nil when only local paths are used.
func NewWriter(s3 Uploader) *Writer { return &Writer{s3: s3} }

// Encode renders the sections document with two-space indentation. A run
// without sections produces an empty array, never null.
func Encode(secs []sections.Section) ([]byte, error) {
	if secs == nil {
		secs = []sections.Section{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{Sections: secs}); err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores the sections document at dest and returns where it went.
func (w *Writer) Write(ctx context.Context, dest string, secs []sections.Section) (string, error) {
	data, err := Encode(secs)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(dest, "s3://") {
		if w.s3 == nil {
			return "", fmt.Errorf("output %s: no S3 client configured", dest)
		}
		if err := w.s3.Upload(ctx, dest, "application/json", data); err != nil {
			return "", err
		}
		return dest, nil
	}

	dest = strings.TrimPrefix(dest, "file://")
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}

	log.Info().Str("path", dest).Int("sections", len(secs)).Msg("result written")
	return dest, nil
}
