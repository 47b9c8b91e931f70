package predict

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lightvibes/biomap/internal/app"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/prediction"
)

// Command creates the population forecast command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		steps     int
		amount    int
		narrative bool
		plotPath  string
		noSave    bool
	)

	cmd := &cobra.Command{
		Use:   "predict <species name>",
		Short: "Request a population forecast and optional risk narrative",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("narrative") {
				settings.Narrative.Enabled = narrative
			}

			var opts []app.Option
			if noSave {
				opts = append(opts, app.WithoutStore())
			}
			a, err := app.New(settings, opts...)
			if err != nil {
				return err
			}
			defer a.Close()

			req := prediction.Request{
				SpeciesName:      strings.Join(args, " "),
				NSteps:           steps,
				PredictionAmount: amount,
			}
			res, err := a.Predictions.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if plotPath != "" {
				png, err := base64.StdEncoding.DecodeString(res.Plot)
				if err != nil {
					return fmt.Errorf("forecast plot is not valid base64: %w", err)
				}
				if err := os.WriteFile(plotPath, png, 0o644); err != nil { //nolint:gosec // chart image is not sensitive
					return fmt.Errorf("failed to write plot: %w", err)
				}
				fmt.Fprintf(out, "Plot saved to %s\n", plotPath)
			}

			switch {
			case res.Assessment != nil:
				fmt.Fprintln(out, res.Assessment.String())
			case res.NarrativeError != "":
				fmt.Fprintf(out, "Risk narrative unavailable: %s\n", res.NarrativeError)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 12, "Forecast horizon in time steps")
	cmd.Flags().IntVar(&amount, "amount", 6, "Number of forecast points to plot (1-24)")
	cmd.Flags().BoolVar(&narrative, "narrative", false, "Ask the generative model for a risk narrative")
	cmd.Flags().StringVarP(&plotPath, "output", "o", "", "Write the forecast chart PNG to this path")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record the prediction in the datastore")

	return cmd
}
