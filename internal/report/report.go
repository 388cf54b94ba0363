// Package report renders one scored version as a downloadable PDF.
package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/tbourn/go-review-backend/internal/checklist"
	"github.com/tbourn/go-review-backend/internal/domain"
)

const (
	pageWidth = 190.0
	idWidth   = 16.0
	ansWidth  = 20.0
)

// Render lays out the title, version header and the answer table of v.
// A degraded version prints the decode failure instead of the table.
func Render(title string, v domain.Version) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.SetTitle(title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.MultiCell(0, 8, tr(title), "", "C", false)
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Version %d - %s", v.Number, v.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")), "", 1, "C", false, 0, "")
	if v.Checklist != "" {
		pdf.CellFormat(0, 6, "Checklist: "+tr(v.Checklist), "", 1, "C", false, 0, "")
	}
	pdf.Ln(5)

	if f, ok := v.Results.Failure(); ok {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 7, tr(f.Error), "", 1, "", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 4, tr(f.Raw), "1", "", false)
		return output(pdf)
	}

	answers := v.Results.Answers()
	annotated := v.Results.Kind == domain.ResultAnnotated

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(idWidth, 8, "Item", "1", 0, "C", false, 0, "")
	pdf.CellFormat(pageWidth-idWidth-ansWidth, 8, "Question", "1", 0, "C", false, 0, "")
	pdf.CellFormat(ansWidth, 8, "Answer", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, it := range checklist.Items {
		a, ok := answers[it.ID]
		if !ok {
			a = domain.Answer{Answer: "-"}
		}
		pdf.CellFormat(idWidth, 7, it.ID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(pageWidth-idWidth-ansWidth, 7, tr(clip(it.Text, 100)), "1", 0, "", false, 0, "")
		pdf.CellFormat(ansWidth, 7, tr(a.Answer), "1", 1, "C", false, 0, "")
		if annotated && a.Justification != "" {
			pdf.SetFont("Arial", "I", 8)
			pdf.MultiCell(0, 5, tr(a.Justification), "LRB", "", false)
			pdf.SetFont("Arial", "", 9)
		}
	}
	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
