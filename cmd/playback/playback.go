package playback

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lightvibes/biomap/internal/app"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/playback"
)

// Command creates the command that plays a taxon's occurrences year by year.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		from  string
		ticks int
	)

	cmd := &cobra.Command{
		Use:   "playback <taxon-key>",
		Short: "Step through occurrence years and print each frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, app.WithoutStore())
			if err != nil {
				return err
			}
			defer a.Close()

			c := playback.NewController(a.Fetcher, playback.ConfigFromSettings(&settings.Playback))
			defer c.Close()

			if from != "" {
				if _, err := c.SelectYear(from); err != nil {
					return err
				}
			}
			c.SetSpecies(args[0])
			// the first frame is the starting year, then one per tick
			c.Toggle()

			out := cmd.OutOrStdout()
			deadline := time.NewTimer(time.Duration(ticks+1)*(settings.Playback.Interval+settings.GBIF.Timeout) + time.Second)
			defer deadline.Stop()

			for seen := 0; seen < ticks; {
				select {
				case f, ok := <-c.Frames():
					if !ok {
						return nil
					}
					if f.Err != nil {
						fmt.Fprintf(out, "%s\t%s\t%v\n", f.Year, f.Status, f.Err)
					} else {
						fmt.Fprintf(out, "%s\t%s\n", f.Year, f.Status)
					}
					seen++
				case <-deadline.C:
					return fmt.Errorf("playback stalled after %d frames", seen)
				case <-cmd.Context().Done():
					return nil
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Year to start from (default newest)")
	cmd.Flags().IntVar(&ticks, "ticks", 5, "Number of frames to print")
	cmd.Flags().DurationVar(&settings.Playback.Interval, "interval", viper.GetDuration("playback.interval"), "Time per year")

	return cmd
}
