// Package extract turns an uploaded PDF into the plain text that is scored
// and reads the document title from its metadata.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a PDF parses but yields no text.
var ErrNoText = errors.New("extract: document has no extractable text")

// Document is the result of extracting one PDF.
type Document struct {
	Text  string
	Title string // from the Info dictionary; empty when absent
	Pages int
}

// Extractor extracts text from PDF bytes.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Document, error)
}

// PDF is the default Extractor.
type PDF struct {
	// MaxChars truncates the extracted text; 0 means unlimited.
	MaxChars int
}

// Extract parses data as a PDF. Malformed input returns an error rather
// than panicking.
func (p PDF) Extract(ctx context.Context, data []byte) (doc Document, err error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = Document{}, fmt.Errorf("extract: malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("extract: open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("extract: read text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return Document{}, fmt.Errorf("extract: read text: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return Document{}, ErrNoText
	}
	if p.MaxChars > 0 && len(text) > p.MaxChars {
		text = truncate(text, p.MaxChars)
	}
	return Document{
		Text:  text,
		Title: strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text()),
		Pages: r.NumPage(),
	}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
