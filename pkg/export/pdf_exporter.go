package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth   = 277.0
	periodWidth = 32.0
	rowHeight   = 14.0
)

// PDFExporter renders grids on a landscape A4 page, filling cells with their subject color.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderGrid creates a one-page PDF.
func (e *PDFExporter) RenderGrid(grid Grid) ([]byte, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if grid.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(grid.Title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	dayWidth := (pageWidth - periodWidth) / float64(len(grid.Days))

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(periodWidth, 8, "", "1", 0, "C", false, 0, "")
	for _, day := range grid.Days {
		pdf.CellFormat(dayWidth, 8, tr(day), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	for p, period := range grid.Periods {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(255, 255, 255)
		pdf.CellFormat(periodWidth, rowHeight, tr(period.Label+" "+period.timeRange()), "1", 0, "C", false, 0, "")

		pdf.SetFont("Arial", "", 7)
		for d := range grid.Days {
			cell := grid.At(p, d)
			fill := false
			if cell != nil {
				if r, g, b, ok := parseHexColor(cell.Color); ok {
					pdf.SetFillColor(r, g, b)
					fill = true
				}
			}
			pdf.CellFormat(dayWidth, rowHeight, tr(truncate(cell.text(), 40)), "1", 0, "C", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// parseHexColor accepts #RGB or #RRGGBB and lightens it so black text stays readable.
func parseHexColor(raw string) (int, int, int, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	lighten := func(c uint64) int { return int(c + (255-c)*3/5) }
	return lighten(value >> 16 & 0xFF), lighten(value >> 8 & 0xFF), lighten(value & 0xFF), true
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "."
}
