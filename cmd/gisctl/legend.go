package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/spf13/cobra"
)

var legendCmd = &cobra.Command{
	Use:   "legend",
	Short: "Print the debt color table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scale, err := parcels.ScaleFromConfig(cfg.Thematic)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLOR\tCLASE")
		for _, e := range scale.Legend() {
			fmt.Fprintf(tw, "%s\t%s\n", e.Color, e.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\n", scale.NullColor, "Sin deuda")
		return tw.Flush()
	},
}
