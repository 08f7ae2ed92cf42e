// Package cmd assembles the scanner command line interface
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stationsafe/scanner-go/cmd/config"
	"github.com/stationsafe/scanner-go/cmd/file"
	"github.com/stationsafe/scanner-go/cmd/realtime"
	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scanner",
		Short:         "Station equipment scanner",
		Long:          "Detects safety equipment in camera frames and raises presence alerts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		// flag binding only fails on programming errors
		panic(err)
	}

	configCmd := config.Command(settings)
	versionCmd := versionCommand(info)

	rootCmd.AddCommand(
		realtime.Command(settings, info),
		file.Command(settings),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config need no valid pipeline settings
		if cmd == versionCmd || (cmd.HasParent() && cmd.Parent() == configCmd) {
			return nil
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.StringVarP(&settings.Detector.ModelPath, "model", "m", settings.Detector.ModelPath, "Path to the model weights")
	flags.StringVar(&settings.Detector.Backend, "backend", settings.Detector.Backend, "Detector backend (onnx, remote)")
	flags.Float64VarP(&settings.Detector.Threshold, "threshold", "t", settings.Detector.Threshold, "Confidence threshold for detections, between 0.0 and 1.0")
	flags.StringSliceVar(&settings.Detector.Classes, "classes", settings.Detector.Classes, "Class names in model label order")

	bindings := map[string]string{
		"debug":     "debug",
		"model":     "detector.modelpath",
		"backend":   "detector.backend",
		"threshold": "detector.threshold",
		"classes":   "detector.classes",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func versionCommand(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("scanner %s (built %s)\n", info.GetVersion(), info.GetBuildDate())
		},
	}
}
