package main

import (
	"fmt"
	"io"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/export"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/render"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
)

var (
	filterFlags parcels.Filter
	thematic    bool
	title       string
)

var exportCmd = &cobra.Command{
	Use:   "export xlsx|pdf <file.zip|file.shp>",
	Short: "Export the filtered parcels to a spreadsheet or a PDF report",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

func init() {
	def := parcels.DefaultFilter()
	f := exportCmd.Flags()
	f.StringVar(&filterFlags.CodSer, "cod-ser", "", "Service code contains")
	f.StringVar(&filterFlags.Barrio, "barrio", "", "Neighbourhood contains (case-insensitive)")
	f.StringVar(&filterFlags.Calle, "calle", "", "Street contains (case-insensitive)")
	f.StringVar(&filterFlags.Unidad, "unidad", "", "Unit contains (case-insensitive)")
	f.Float64Var(&filterFlags.SaldoMin, "saldo-min", def.SaldoMin, "Minimum debt")
	f.Float64Var(&filterFlags.SaldoMax, "saldo-max", def.SaldoMax, "Maximum debt")
	f.BoolVar(&thematic, "thematic", false, "Color the PDF map by debt and include the legend")
	f.StringVar(&title, "title", "", "PDF report title")
}

func runExport(cmd *cobra.Command, args []string) error {
	format := args[0]
	if format != "xlsx" && format != "pdf" {
		return fmt.Errorf("unknown format %q (want xlsx or pdf)", format)
	}

	scale, err := parcels.ScaleFromConfig(cfg.Thematic)
	if err != nil {
		return err
	}
	layers, err := load(args[1])
	if err != nil {
		return err
	}

	flt := filterFlags
	if flt.SaldoMin == 0 {
		flt.SaldoMin = parcels.DefaultSaldoMin
	}
	if flt.SaldoMax == 0 {
		flt.SaldoMax = parcels.DefaultSaldoMax
	}
	flt.DebtFields = scale.Fields
	res := flt.Apply(layers)

	tbl, err := export.NewTable(layers, res.Matches, scale.Fields)
	if err != nil {
		return err
	}

	path := output
	if path == "" {
		path = export.XLSXFilename
		if format == "pdf" {
			path = export.PDFFilename
		}
	}

	err = withOutput(cmd.OutOrStdout(), path, func(w io.Writer) error {
		if format == "xlsx" {
			return export.XLSX(w, tbl)
		}
		return writePDF(w, res, scale, flt, tbl)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d parcelas exportadas a %s\n", len(tbl.Rows), path)
	return nil
}

func writePDF(w io.Writer, res parcels.Result, scale parcels.Scale, flt parcels.Filter, tbl export.Table) error {
	var items []render.Item
	var frame orb.Bound
	framed := false
	for _, m := range res.Matches {
		if m.Feature.Geometry == nil {
			continue
		}
		items = append(items, render.Item{Geometry: m.Feature.Geometry, Style: scale.StyleFor(m.Feature.Properties, thematic, true)})
		if !framed {
			frame, framed = m.Feature.Geometry.Bound(), true
			continue
		}
		frame = frame.Union(m.Feature.Geometry.Bound())
	}

	img, err := render.Map(items, frame, render.DefaultOptions())
	if err != nil {
		return err
	}
	report := export.Report{
		Title:     title,
		Map:       img,
		Filter:    flt,
		Table:     tbl,
		Generated: time.Now(),
	}
	if thematic {
		report.Legend = scale.Legend()
	}
	return export.PDF(w, report)
}
