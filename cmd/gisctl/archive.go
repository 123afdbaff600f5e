package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/EmpoweredVote/GIS-Backend/internal/db"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var archiveName string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage the PostGIS layer archive (needs DATABASE_URL)",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived layers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd.Context(), func(a *parcels.PostGISArchive) error {
			ls, err := a.Layers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPARCELS\tUPDATED")
			for _, l := range ls {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.ID, l.Name, l.Parcels, l.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var archiveImportCmd = &cobra.Command{
	Use:   "import <file.zip|file.shp>",
	Short: "Load a shapefile straight into the archive",
	Long: `Parses and reprojects the file as an upload would, then writes each
layer to gis.layers / gis.parcels. The server picks them up on its next start.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layers, _, err := loader().Load(args[0], parcels.LoadOptions{Name: archiveName, SourceProj: sourceProj})
		if err != nil {
			return err
		}
		return withArchive(cmd.Context(), func(a *parcels.PostGISArchive) error {
			for _, l := range layers {
				if err := a.Save(cmd.Context(), l); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %q (%d parcelas)\n", l.ID, l.Name, len(l.Collection.Features))
			}
			return nil
		})
	},
}

var archiveDeleteCmd = &cobra.Command{
	Use:   "delete <layer-id>",
	Short: "Remove an archived layer and its parcels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid layer id: %w", err)
		}
		return withArchive(cmd.Context(), func(a *parcels.PostGISArchive) error {
			if err := a.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted %s\n", id)
			return nil
		})
	},
}

func init() {
	archiveImportCmd.Flags().StringVar(&archiveName, "name", "", "Layer name (default: shapefile name)")
	archiveCmd.AddCommand(archiveListCmd, archiveImportCmd, archiveDeleteCmd)
	rootCmd.AddCommand(archiveCmd)
}

func withArchive(ctx context.Context, fn func(*parcels.PostGISArchive) error) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	a, err := parcels.InitArchive(gdb)
	if err != nil {
		return err
	}
	return fn(a)
}
