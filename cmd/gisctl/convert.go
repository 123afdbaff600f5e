package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.zip|file.shp>",
	Short: "Convert a shapefile to lon/lat GeoJSON",
	Long: `Parses the shapefile, reprojects it to WGS84 longitude/latitude and
writes one FeatureCollection. With several shapefiles in a zip the features
are concatenated and each carries a "layer" property.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	layers, err := load(args[0])
	if err != nil {
		return err
	}

	fc := geojson.NewFeatureCollection()
	for _, l := range layers {
		for _, f := range l.Collection.Features {
			if len(layers) > 1 {
				f.Properties["layer"] = l.Name
			}
			fc.Append(f)
		}
	}

	return withOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(fc)
	})
}

// withOutput calls write on path, or on stdout when path is empty.
func withOutput(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
