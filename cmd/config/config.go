package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightvibes/biomap/internal/conf"
)

// Command creates the config parent command.
func Command(settings *conf.Settings) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := settings.MarshalRedactedYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "default",
			Short: "Print the built-in default configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := fmt.Fprint(cmd.OutOrStdout(), conf.DefaultConfigYAML())
				return err
			},
		},
		&cobra.Command{
			Use:   "save <path>",
			Short: "Write the effective configuration, secrets included, to a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := conf.SaveYAMLConfig(args[0], settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
				return nil
			},
		},
	)

	return configCmd
}
