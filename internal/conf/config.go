// config.go: settings struct for the scanner and functions to load and save it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// DetectorSettings configures the object detection model
type DetectorSettings struct {
	Backend      string                 `yaml:"backend"`      // "onnx" for local inference, "remote" for a websocket detection server
	ModelPath    string                 `yaml:"modelpath"`    // path to model weights, e.g. best.onnx
	Threshold    float64                `yaml:"threshold"`    // minimum confidence for a detection to be kept
	Classes      []string               `yaml:"classes"`      // class registry, index i is model label i
	InputSize    int                    `yaml:"inputsize"`    // square model input resolution in pixels
	NMSThreshold float64                `yaml:"nmsthreshold"` // IoU threshold for non-maximum suppression
	Timeout      time.Duration          `yaml:"timeout"`      // per-frame inference timeout
	Remote       RemoteDetectorSettings `yaml:"remote"`
}

// RemoteDetectorSettings configures the websocket detector backend
type RemoteDetectorSettings struct {
	URL         string        `yaml:"url"`         // ws://host:port/ws
	DialTimeout time.Duration `yaml:"dialtimeout"` // connection timeout
}

// CameraSettings configures the live camera source
type CameraSettings struct {
	Enabled         bool          `yaml:"enabled"`         // start the camera with the monitor
	Device          string        `yaml:"device"`          // device index ("0") or stream URL
	CaptureInterval time.Duration `yaml:"captureinterval"` // time between captured frames
	Width           int           `yaml:"width"`           // requested capture width, 0 keeps the device default
	Height          int           `yaml:"height"`          // requested capture height, 0 keeps the device default
}

// AlertSettings configures the in-memory alert log
type AlertSettings struct {
	MaxEntries int `yaml:"maxentries"` // retained entries, oldest are evicted first
	BufferSize int `yaml:"buffersize"` // per-subscriber delivery queue
}

// MQTTSettings configures alert publishing over MQTT
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`   // tcp://host:1883
	Topic    string `yaml:"topic"`    // topic prefix
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"clientid"` // empty generates one
	Retain   bool   `yaml:"retain"`   // retain presence state messages
}

// PushSettings configures push notifications via shoutrrr
type PushSettings struct {
	Enabled   bool          `yaml:"enabled"`
	URLs      []string      `yaml:"urls"`      // shoutrrr service URLs
	MinLevel  string        `yaml:"minlevel"`  // INFO, WARNING or ERROR
	Cooldown  time.Duration `yaml:"cooldown"`  // suppress identical messages within this window
	Timeout   time.Duration `yaml:"timeout"`   // per-send timeout
	RateLimit float64       `yaml:"ratelimit"` // notifications per second
	Burst     int           `yaml:"burst"`
}

// TelemetrySettings configures the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // separate listener, empty serves /metrics on the web server only
}

// RealtimeSettings configures the live monitoring pipeline
type RealtimeSettings struct {
	PollInterval time.Duration     `yaml:"pollinterval"` // worker sleep when no new frame is available
	StopTimeout  time.Duration     `yaml:"stoptimeout"`  // bounded wait for the worker to exit
	Camera       CameraSettings    `yaml:"camera"`
	Alerts       AlertSettings     `yaml:"alerts"`
	MQTT         MQTTSettings      `yaml:"mqtt"`
	Push         PushSettings      `yaml:"push"`
	Telemetry    TelemetrySettings `yaml:"telemetry"`
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	MaxUploadBytes int64  `yaml:"maxuploadbytes"`
}

// SQLiteSettings configures alert persistence in SQLite
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings configures alert persistence in MySQL
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// OutputSettings configures alert persistence
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings is the root configuration
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name string `yaml:"name"` // station or module name shown in alerts
	} `yaml:"main"`

	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Detector  DetectorSettings     `yaml:"detector"`
	Realtime  RealtimeSettings     `yaml:"realtime"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Output    OutputSettings       `yaml:"output"`
	Sentry    SentrySettings       `yaml:"sentry"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads .env, the config file and environment variables into Settings
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		GetLogger().Warn("failed to read .env file", logger.Error(err))
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds the environment and reads the config file
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// invalid env values are reported but do not block startup; validation catches real problems
		GetLogger().Warn("environment variable issues", logger.Error(err))
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "scanner"),
		"/etc/scanner",
	}, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings, loading them on first use
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				GetLogger().Error("error loading settings", logger.Error(err))
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath atomically via a temp file and rename
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
