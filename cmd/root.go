package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lightvibes/biomap/cmd/config"
	"github.com/lightvibes/biomap/cmd/occurrences"
	"github.com/lightvibes/biomap/cmd/playback"
	"github.com/lightvibes/biomap/cmd/predict"
	"github.com/lightvibes/biomap/cmd/search"
	"github.com/lightvibes/biomap/cmd/serve"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "biomap",
		Short:         "Species occurrence map service backed by GBIF",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, version),
		search.Command(settings),
		occurrences.Command(settings),
		playback.Command(settings),
		predict.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// flags may have overridden validated file values
		if err := conf.ValidateSettings(settings); err != nil {
			return err
		}
		conf.SetSettings(settings)
		return initLogging(settings)
	}

	return rootCmd
}

// initLogging installs the global logger from the logging section.
func initLogging(settings *conf.Settings) error {
	if settings.Main.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d", viper.GetBool("main.debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.GBIF.BaseURL, "gbif-url", viper.GetString("gbif.base_url"), "GBIF API root")
	rootCmd.PersistentFlags().DurationVar(&settings.GBIF.Timeout, "gbif-timeout", viper.GetDuration("gbif.timeout"), "Timeout for each GBIF request")
	rootCmd.PersistentFlags().StringVar(&settings.Fetch.Mode, "fetch-mode", viper.GetString("fetch.mode"), "Occurrence fetch mode (bounded or paged)")
	rootCmd.PersistentFlags().StringVar(&settings.Prediction.URL, "prediction-url", viper.GetString("prediction.url"), "Forecast service base URL")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
