package layers

import (
	"bytes"
	"errors"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/export"
	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/render"
	"github.com/paulmach/orb"
)

func (s *Service) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	q := s.readQuery(r)
	layers, _ := s.Catalogue.Snapshot()
	res := q.filter.Apply(layers)

	tbl, err := export.NewTable(layers, res.Matches, s.Scale.Fields)
	if err != nil {
		s.exportFailed(w, "xlsx", err)
		return
	}
	var buf bytes.Buffer
	if err := export.XLSX(&buf, tbl); err != nil {
		s.exportFailed(w, "xlsx", err)
		return
	}

	metrics.ExportsTotal.WithLabelValues("xlsx", "ok").Inc()
	middleware.AddServerTiming(w, [2]string{"total", middleware.Millis(time.Since(t0))})
	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.XLSXFilename)
	w.Write(buf.Bytes())
}

func (s *Service) ExportPDF(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	q := s.readQuery(r)
	layers, _ := s.Catalogue.Snapshot()
	res := q.filter.Apply(layers)

	tbl, err := export.NewTable(layers, res.Matches, s.Scale.Fields)
	if err != nil {
		s.exportFailed(w, "pdf", err)
		return
	}

	opts := render.DefaultOptions()
	img, err := s.renderMap(layers, res, q.thematic, opts)
	if err != nil {
		s.exportFailed(w, "pdf", err)
		return
	}
	tRender := time.Since(t0)

	report := export.Report{
		Title:  r.URL.Query().Get("title"),
		Map:    img,
		Filter: q.filter,
		Table:  tbl,
	}
	if q.thematic {
		report.Legend = s.Scale.Legend()
	}
	var buf bytes.Buffer
	if err := export.PDF(&buf, report); err != nil {
		s.exportFailed(w, "pdf", err)
		return
	}

	metrics.ExportsTotal.WithLabelValues("pdf", "ok").Inc()
	middleware.AddServerTiming(w,
		[2]string{"render", middleware.Millis(tRender)},
		[2]string{"total", middleware.Millis(time.Since(t0))},
	)
	attachment(w, "application/pdf", export.PDFFilename)
	w.Write(buf.Bytes())
}

// ExportPNG renders the map alone. width and height are clamped to
// 100..4000 pixels.
func (s *Service) ExportPNG(w http.ResponseWriter, r *http.Request) {
	q := s.readQuery(r)
	layers, _ := s.Catalogue.Snapshot()
	if len(layers) == 0 {
		s.exportFailed(w, "png", export.ErrEmptyExport)
		return
	}
	res := q.filter.Apply(layers)

	opts := render.DefaultOptions()
	opts.Width = clampInt(r.URL.Query().Get("width"), opts.Width, 100, 4000)
	opts.Height = clampInt(r.URL.Query().Get("height"), opts.Height, 100, 4000)
	if q.thematic {
		opts.Legend = s.Scale.Legend()
	}

	img, err := s.renderMap(layers, res, q.thematic, opts)
	if err != nil {
		s.exportFailed(w, "png", err)
		return
	}
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		s.exportFailed(w, "png", err)
		return
	}
	metrics.ExportsTotal.WithLabelValues("png", "ok").Inc()
	attachment(w, "image/png", "mapa.png")
	w.Write(buf.Bytes())
}

// renderMap draws the filtered features in their style, framed on them or,
// with no matches, on the whole catalogue.
func (s *Service) renderMap(layers []*parcels.Layer, res parcels.Result, thematic bool, opts render.Options) (image.Image, error) {
	var items []render.Item
	var frame orb.Bound
	framed := false
	extend := func(b orb.Bound) {
		if !framed {
			frame, framed = b, true
			return
		}
		frame = frame.Union(b)
	}

	for _, m := range res.Matches {
		if m.Feature.Geometry == nil {
			continue
		}
		items = append(items, render.Item{
			Geometry: m.Feature.Geometry,
			Style:    s.Scale.StyleFor(m.Feature.Properties, thematic, true),
		})
		extend(m.Feature.Geometry.Bound())
	}
	if !framed {
		for _, l := range layers {
			extend(l.Bound)
		}
	}
	return render.Map(items, frame, opts)
}

func (s *Service) exportFailed(w http.ResponseWriter, format string, err error) {
	if errors.Is(err, export.ErrEmptyExport) {
		metrics.ExportsTotal.WithLabelValues(format, "empty").Inc()
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	metrics.ExportsTotal.WithLabelValues(format, "error").Inc()
	logging.LogError("export", format, err)
	http.Error(w, "Error al generar la exportación.", http.StatusInternalServerError)
}

func clampInt(raw string, def, lo, hi int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
