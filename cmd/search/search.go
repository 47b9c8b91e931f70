package search

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lightvibes/biomap/internal/app"
	"github.com/lightvibes/biomap/internal/conf"
	species "github.com/lightvibes/biomap/internal/search"
)

// Command creates the species search command.
func Command(settings *conf.Settings) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find species with georeferenced occurrences",
		Long: "Suggest species for a scientific or common name. With --interactive each line read " +
			"from stdin is treated as the current input and searched after typing pauses.",
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, app.WithoutStore())
			if err != nil {
				return err
			}
			defer a.Close()

			if interactive {
				return runInteractive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.Searcher.Search, settings)
			}

			results, err := a.Searcher.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printSuggestions(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read successive inputs from stdin")
	cmd.Flags().IntVar(&settings.Search.Limit, "limit", viper.GetInt("search.limit"), "Maximum suggestions")
	cmd.Flags().BoolVar(&settings.Search.IncludeFulltext, "fulltext", viper.GetBool("search.include_fulltext"), "Also run a full text species search")

	return cmd
}

type delivery struct {
	query   string
	results []species.Suggestion
	err     error
}

// runInteractive feeds each stdin line to a debouncer and prints the
// results of the latest input only.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer, search species.SearchFunc, settings *conf.Settings) error {
	deliveries := make(chan delivery, 16)
	d := species.NewDebouncer(settings.Search.Debounce, search, func(q string, res []species.Suggestion, err error) {
		select {
		case deliveries <- delivery{q, res, err}:
		default:
		}
	})
	defer d.Stop()

	var last string
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		last = strings.TrimSpace(sc.Text())
		d.Trigger(last)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if last == "" {
		return nil
	}

	wait := settings.Search.Debounce + settings.GBIF.Timeout + time.Second
	timeout := time.After(wait)
	for {
		select {
		case got := <-deliveries:
			if got.query != last {
				continue
			}
			if got.err != nil {
				return got.err
			}
			fmt.Fprintf(out, "%q\n", got.query)
			return printSuggestions(out, got.results)
		case <-timeout:
			return fmt.Errorf("no results for %q within %s", last, wait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printSuggestions(out io.Writer, results []species.Suggestion) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No species with occurrence records found")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tRANK\tOCCURRENCES")
	for i := range results {
		s := &results[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Key, s.DisplayName, s.Rank, s.Count)
	}
	return w.Flush()
}
