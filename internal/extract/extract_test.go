package extract

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

func samplePDF(t *testing.T, title string, lines ...string) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	if title != "" {
		doc.SetTitle(title, false)
	}
	doc.AddPage()
	doc.SetFont("Arial", "", 12)
	for _, l := range lines {
		doc.Cell(0, 10, l)
		doc.Ln(10)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("render fixture: %v", err)
	}
	return buf.Bytes()
}

func TestPDF_ExtractTextAndTitle(t *testing.T) {
	data := samplePDF(t, "Effects of Pairing", "Hypotheses are stated explicitly.", "Means are reported.")

	doc, err := PDF{}.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(doc.Text, "Hypotheses") {
		t.Fatalf("text does not contain the page content: %q", doc.Text)
	}
	if doc.Title != "Effects of Pairing" {
		t.Fatalf("title = %q", doc.Title)
	}
	if doc.Pages != 1 {
		t.Fatalf("pages = %d", doc.Pages)
	}
}

func TestPDF_NoTitleMetadata(t *testing.T) {
	doc, err := PDF{}.Extract(context.Background(), samplePDF(t, "", "Body text"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Title != "" {
		t.Fatalf("expected empty title, got %q", doc.Title)
	}
}

func TestPDF_RejectsNonPDF(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("hello, not a pdf"), []byte("%PDF-1.4\ngarbage")} {
		if _, err := (PDF{}).Extract(context.Background(), data); err == nil {
			t.Fatalf("expected error for %q", data)
		}
	}
}

func TestPDF_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PDF{}).Extract(ctx, samplePDF(t, "", "x")); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	s := "aé" // 'é' is two bytes
	if got := truncate(s, 2); got != "a" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
	doc, err := PDF{MaxChars: 5}.Extract(context.Background(), samplePDF(t, "", "Hypotheses everywhere"))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Text) > 5 {
		t.Fatalf("text not truncated: %q", doc.Text)
	}
}
