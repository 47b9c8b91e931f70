package occurrences

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lightvibes/biomap/internal/app"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/mapview"
	"github.com/lightvibes/biomap/internal/occurrence"
)

// Command creates the occurrence fetch command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		year    string
		paged   bool
		geojson bool
		zoom    int
	)

	cmd := &cobra.Command{
		Use:   "occurrences <taxon-key>",
		Short: "Fetch deduplicated occurrence records for a taxon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, app.WithoutStore())
			if err != nil {
				return err
			}
			defer a.Close()

			q := occurrence.Query{TaxonKey: args[0], Year: year}
			if paged {
				q.Mode = conf.FetchModePaged
				errOut := cmd.ErrOrStderr()
				q.OnProgress = func(p int) { fmt.Fprintf(errOut, "\rLoading... %d%%", p) }
			}

			res, err := a.Fetcher.Fetch(cmd.Context(), q)
			if paged {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), occurrence.StatusForError(err))
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), res.Status)

			if geojson {
				markers := mapview.Markers(res.Records)
				clusters := mapview.ClusterMarkers(markers, zoom, mapview.DefaultClusterRadius, mapview.DefaultDisableClusteringAtZoom)
				return writeJSON(cmd.OutOrStdout(), mapview.ClusterCollection(clusters))
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&year, "year", "y", conf.YearAll, `Year to fetch, or "all"`)
	cmd.Flags().BoolVar(&paged, "paged", false, "Fetch every page with progress instead of a bounded batch")
	cmd.Flags().BoolVar(&geojson, "geojson", false, "Write clustered GeoJSON instead of records")
	cmd.Flags().IntVar(&zoom, "zoom", 2, "Map zoom used for clustering with --geojson")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
