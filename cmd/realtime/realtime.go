package realtime

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
)

// Command creates the command for live camera monitoring.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Monitor equipment in realtime",
		Long:  "Load the model, start the camera and serve the API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), settings, info)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	flags := cmd.Flags()
	flags.StringVar(&settings.Realtime.Camera.Device, "camera", settings.Realtime.Camera.Device, "Camera device index or stream URL")
	flags.BoolVar(&settings.Realtime.Camera.Enabled, "autostart-camera", settings.Realtime.Camera.Enabled, "Start the camera together with the monitor")
	flags.BoolVar(&settings.WebServer.Enabled, "web", settings.WebServer.Enabled, "Serve the HTTP API")
	flags.StringVar(&settings.WebServer.Listen, "listen", settings.WebServer.Listen, "Listen address of the HTTP API")
	flags.BoolVar(&settings.Realtime.Telemetry.Enabled, "telemetry", settings.Realtime.Telemetry.Enabled, "Enable Prometheus telemetry endpoint")
	flags.StringVar(&settings.Realtime.Telemetry.Listen, "telemetry-listen", settings.Realtime.Telemetry.Listen, "Listen address and port of telemetry endpoint")

	bindings := map[string]string{
		"camera":           "realtime.camera.device",
		"autostart-camera": "realtime.camera.enabled",
		"web":              "webserver.enabled",
		"listen":           "webserver.listen",
		"telemetry":        "realtime.telemetry.enabled",
		"telemetry-listen": "realtime.telemetry.listen",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
