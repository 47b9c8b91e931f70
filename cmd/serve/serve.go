package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lightvibes/biomap/internal/app"
	"github.com/lightvibes/biomap/internal/conf"
)

// Command creates the command that runs the HTTP API.
func Command(settings *conf.Settings, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the map API server",
		Long:  "Serve species search, occurrence maps, year playback and predictions over HTTP until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, app.WithVersion(version))
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.Server()
			if err != nil {
				return err
			}
			return srv.StartWithGracefulShutdown(cmd.Context())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", viper.GetString("webserver.port"), "Port to listen on")
	cmd.Flags().StringSliceVar(&settings.WebServer.AllowedOrigins, "allowed-origins", viper.GetStringSlice("webserver.allowed_origins"), "CORS origins allowed to call the API")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics")
	cmd.Flags().BoolVar(&settings.Datastore.Enabled, "history", viper.GetBool("datastore.enabled"), "Save predictions to the datastore")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
