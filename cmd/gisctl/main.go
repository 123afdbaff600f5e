// Command gisctl runs the parcel pipeline from the shell: convert shapefiles
// to GeoJSON, export filtered parcels and print the debt legend.
package main

import (
	"fmt"
	"os"

	"github.com/EmpoweredVote/GIS-Backend/internal/config"
	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject/projlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose    bool
	sourceProj string
	output     string

	cfg     config.Config
	factory reproject.Factory = projlib.Factory{}
)

var rootCmd = &cobra.Command{
	Use:           "gisctl",
	Short:         "Parcel shapefile toolkit",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env.local")

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		_, err = logging.Setup(level, "console")
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&sourceProj, "source-proj", "", "PROJ string of the input (default: .prj, then SOURCE_PROJ)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output file (default: stdout or a fixed file name)")

	rootCmd.AddCommand(convertCmd, exportCmd, legendCmd)
}

func loader() parcels.Loader {
	return parcels.Loader{Factory: factory, DefaultSource: cfg.SourceProj}
}

// load reads path and returns its layers.
func load(path string) ([]*parcels.Layer, error) {
	layers, tm, err := loader().Load(path, parcels.LoadOptions{SourceProj: sourceProj})
	if err != nil {
		return nil, err
	}
	logging.L().Debug("loaded",
		zap.String("file", path),
		zap.Int("layers", len(layers)),
		zap.Duration("parse", tm.Parse),
		zap.Duration("reproject", tm.Reproject))
	return layers, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
