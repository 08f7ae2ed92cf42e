// Package config provides commands for inspecting and writing settings
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stationsafe/scanner-go/internal/conf"
)

const redacted = "[REDACTED]"

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}
	cmd.AddCommand(showCommand(settings), initCommand(settings))
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := *settings
			if !reveal {
				out = redact(out)
			}
			data, err := yaml.Marshal(&out)
			if err != nil {
				return fmt.Errorf("error marshaling settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print passwords and notification URLs unmasked")
	return cmd
}

func initCommand(settings *conf.Settings) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := conf.SaveYAMLConfig(path, settings); err != nil {
				return err
			}
			cmd.Printf("configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// redact masks credentials in a copy of settings
func redact(s conf.Settings) conf.Settings {
	if s.Realtime.MQTT.Password != "" {
		s.Realtime.MQTT.Password = redacted
	}
	if s.Output.MySQL.Password != "" {
		s.Output.MySQL.Password = redacted
	}
	if s.Sentry.DSN != "" {
		s.Sentry.DSN = redacted
	}
	if len(s.Realtime.Push.URLs) > 0 {
		urls := make([]string, len(s.Realtime.Push.URLs))
		for i := range urls {
			urls[i] = redacted
		}
		s.Realtime.Push.URLs = urls
	}
	return s
}
