// env.go - environment variable bindings and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for an environment variable binding
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SCANNER_DEBUG", validateEnvBool},

		{"detector.backend", "SCANNER_DETECTOR_BACKEND", validateEnvBackend},
		{"detector.modelpath", "SCANNER_MODELPATH", validateEnvPath},
		{"detector.threshold", "SCANNER_THRESHOLD", validateEnvUnitFloat},
		{"detector.classes", "SCANNER_CLASSES", validateEnvClasses},
		{"detector.remote.url", "SCANNER_DETECTOR_URL", validateEnvURL},

		{"realtime.pollinterval", "SCANNER_POLL_INTERVAL", validateEnvDuration},
		{"realtime.camera.enabled", "SCANNER_CAMERA_ENABLED", validateEnvBool},
		{"realtime.camera.device", "SCANNER_CAMERA_DEVICE", nil},

		{"realtime.mqtt.broker", "SCANNER_MQTT_BROKER", validateEnvURL},
		{"realtime.mqtt.username", "SCANNER_MQTT_USERNAME", nil},
		{"realtime.mqtt.password", "SCANNER_MQTT_PASSWORD", nil},

		{"webserver.listen", "SCANNER_LISTEN", nil},
		{"sentry.dsn", "SCANNER_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every variable and validates the ones that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvUnitFloat(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 100ms")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendONNX, BackendRemote:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", BackendONNX, BackendRemote)
	}
}

// validateEnvClasses checks a comma separated registry such as "FireExtinguisher,ToolBox"
func validateEnvClasses(value string) error {
	for name := range strings.SplitSeq(value, ",") {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("class names must not be empty")
		}
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	return nil
}

func validateEnvPath(value string) error {
	for _, part := range strings.Split(value, string(os.PathSeparator)) {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}
	return nil
}

// configureEnvironmentVariables enables SCANNER_ prefixed overrides for every key
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("SCANNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
