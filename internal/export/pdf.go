package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/go-pdf/fpdf"
)

const PDFFilename = "reporte.pdf"

// Report is everything that goes into the PDF.
type Report struct {
	Title string
	// Map is optional; it is scaled to the page width.
	Map       image.Image
	Legend    []parcels.LegendEntry
	Filter    parcels.Filter
	Table     Table
	Generated time.Time
}

const (
	pageMargin  = 10.0
	maxMapH     = 120.0
	rowH        = 5.0
	headerFontH = 7.5
)

// PDF writes an A4 landscape report: map, legend, summary and the attribute
// table, repeating the table header on every page.
func PDF(w io.Writer, r Report) error {
	if len(r.Table.Rows) == 0 {
		return ErrEmptyExport
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := pdf.GetPageSize()
	usableW := pageW - 2*pageMargin

	pdf.AddPage()
	title := r.Title
	if title == "" {
		title = "Reporte de parcelas"
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	generated := r.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	pdf.CellFormat(0, 5, tr("Generado: "+generated.Format("02/01/2006 15:04")+"   Filtro: "+describeFilter(r.Filter)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if r.Map != nil {
		if err := placeMap(pdf, r.Map, usableW); err != nil {
			return err
		}
	}

	if len(r.Legend) > 0 {
		drawLegend(pdf, tr, r.Legend, usableW)
	}

	pdf.SetFont("Helvetica", "B", 10)
	summary := fmt.Sprintf("Parcelas filtradas: %d    Deuda total: %s", len(r.Table.Rows), formatMoney(r.Table.TotalDebt))
	pdf.CellFormat(0, 7, tr(summary), "", 1, "L", false, 0, "")
	pdf.Ln(1)

	drawTable(pdf, tr, r.Table, usableW, pageH)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	return pdf.Output(w)
}

func placeMap(pdf *fpdf.Fpdf, img image.Image, usableW float64) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode map: %w", err)
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("map", opts, &buf)

	b := img.Bounds()
	w := usableW
	h := w * float64(b.Dy()) / float64(b.Dx())
	if h > maxMapH {
		h = maxMapH
		w = h * float64(b.Dx()) / float64(b.Dy())
	}
	x := pageMargin + (usableW-w)/2
	y := pdf.GetY()
	pdf.ImageOptions("map", x, y, w, h, false, opts, 0, "")
	pdf.SetY(y + h + 3)
	return nil
}

func drawLegend(pdf *fpdf.Fpdf, tr func(string) string, entries []parcels.LegendEntry, usableW float64) {
	const (
		swatch = 4.0
		cellW  = 45.0
	)
	perRow := int(usableW / cellW)
	if perRow < 1 {
		perRow = 1
	}
	pdf.SetFont("Helvetica", "", 7)
	pdf.SetDrawColor(0, 0, 0)
	for i, e := range entries {
		if i > 0 && i%perRow == 0 {
			pdf.Ln(swatch + 1.5)
		}
		x := pageMargin + float64(i%perRow)*cellW
		y := pdf.GetY()
		r, g, b := hexRGB(e.Color)
		pdf.SetFillColor(r, g, b)
		pdf.Rect(x, y, swatch, swatch, "FD")
		pdf.SetXY(x+swatch+1.5, y)
		pdf.CellFormat(cellW-swatch-2, swatch, tr(pdfSafe(e.Label)), "", 0, "L", false, 0, "")
	}
	pdf.Ln(swatch + 3)
}

func drawTable(pdf *fpdf.Fpdf, tr func(string) string, t Table, usableW, pageH float64) {
	if len(t.Columns) == 0 {
		return
	}
	colW := usableW / float64(len(t.Columns))

	header := func() {
		pdf.SetFont("Helvetica", "B", headerFontH)
		pdf.SetFillColor(230, 230, 230)
		for _, c := range t.Columns {
			pdf.CellFormat(colW, rowH+1, tr(fit(pdf, tr, c, colW)), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 7)
	}

	header()
	for _, row := range t.Rows {
		if pdf.GetY()+rowH > pageH-pageMargin {
			pdf.AddPage()
			header()
		}
		for _, v := range row {
			pdf.CellFormat(colW, rowH, tr(fit(pdf, tr, FormatValue(v), colW)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// fit shortens s until it fits in width mm with the current font.
func fit(pdf *fpdf.Fpdf, tr func(string) string, s string, width float64) string {
	limit := width - 1.5
	if pdf.GetStringWidth(tr(s)) <= limit {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		cand := string(runes) + "…"
		if pdf.GetStringWidth(tr(cand)) <= limit {
			return cand
		}
	}
	return ""
}

// pdfSafe replaces characters the core fonts cannot show.
func pdfSafe(s string) string {
	return strings.NewReplacer("≤", "<=", "≥", ">=").Replace(s)
}

func hexRGB(s string) (int, int, int) {
	var r, g, b int
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, "#"), "%02x%02x%02x", &r, &g, &b); err != nil {
		return 255, 255, 255
	}
	return r, g, b
}

func describeFilter(f parcels.Filter) string {
	var parts []string
	for _, p := range []struct{ k, v string }{
		{"cod_ser", f.CodSer},
		{"barrio", f.Barrio},
		{"calle", f.Calle},
		{"unidad", f.Unidad},
	} {
		if p.v != "" {
			parts = append(parts, p.k+"="+p.v)
		}
	}
	parts = append(parts, fmt.Sprintf("saldo %s - %s", formatMoney(f.SaldoMin), formatMoney(f.SaldoMax)))
	return strings.Join(parts, ", ")
}

// formatMoney prints v with thousands separators and two decimals.
func formatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%.2f", v)
	intPart, dec := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + "." + dec
	if neg {
		out = "-" + out
	}
	return out
}
