// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// ValidationError collects every problem found in a Settings struct
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateDetectorSettings,
		validateRealtimeSettings,
		validateMQTTSettings,
		validatePushSettings,
		validateWebServerSettings,
		validateOutputSettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectorSettings(s *Settings) []string {
	var errs []string
	d := &s.Detector

	if d.Threshold < 0 || d.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("detector.threshold must be between 0 and 1, got %v", d.Threshold))
	}

	errs = append(errs, ValidateClassRegistry(d.Classes)...)

	switch d.Backend {
	case BackendONNX:
		if d.InputSize <= 0 || d.InputSize%32 != 0 {
			errs = append(errs, fmt.Sprintf("detector.inputsize must be a positive multiple of 32, got %d", d.InputSize))
		}
		if d.NMSThreshold <= 0 || d.NMSThreshold > 1 {
			errs = append(errs, fmt.Sprintf("detector.nmsthreshold must be in (0, 1], got %v", d.NMSThreshold))
		}
	case BackendRemote:
		if err := validateEnvURL(d.Remote.URL); err != nil {
			errs = append(errs, fmt.Sprintf("detector.remote.url: %v", err))
		} else if u, _ := url.Parse(d.Remote.URL); u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, "detector.remote.url must use ws:// or wss://")
		}
	default:
		errs = append(errs, fmt.Sprintf("detector.backend must be %q or %q, got %q", BackendONNX, BackendRemote, d.Backend))
	}

	if d.Timeout <= 0 {
		errs = append(errs, "detector.timeout must be positive")
	}

	return errs
}

// ValidateClassRegistry checks that the registry is non-empty with unique, non-blank names
func ValidateClassRegistry(classes []string) []string {
	var errs []string

	if len(classes) == 0 {
		errs = append(errs, "detector.classes must contain at least one class")
	}
	if lo.ContainsBy(classes, func(c string) bool { return strings.TrimSpace(c) == "" }) {
		errs = append(errs, "detector.classes must not contain blank names")
	}
	if dups := lo.FindDuplicates(classes); len(dups) > 0 {
		errs = append(errs, fmt.Sprintf("detector.classes contains duplicates: %s", strings.Join(dups, ", ")))
	}

	return errs
}

func validateRealtimeSettings(s *Settings) []string {
	var errs []string
	r := &s.Realtime

	if r.PollInterval <= 0 {
		errs = append(errs, "realtime.pollinterval must be positive")
	}
	if r.StopTimeout <= 0 {
		errs = append(errs, "realtime.stoptimeout must be positive")
	}
	if r.Camera.CaptureInterval <= 0 {
		errs = append(errs, "realtime.camera.captureinterval must be positive")
	}
	if r.Camera.Width < 0 || r.Camera.Height < 0 {
		errs = append(errs, "realtime.camera width and height must not be negative")
	}
	if r.Alerts.MaxEntries <= 0 {
		errs = append(errs, "realtime.alerts.maxentries must be positive")
	}
	if r.Alerts.BufferSize <= 0 {
		errs = append(errs, "realtime.alerts.buffersize must be positive")
	}

	return errs
}

func validateMQTTSettings(s *Settings) []string {
	m := &s.Realtime.MQTT
	if !m.Enabled {
		return nil
	}

	var errs []string
	if err := validateEnvURL(m.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("realtime.mqtt.broker: %v", err))
	}
	if strings.TrimSpace(m.Topic) == "" {
		errs = append(errs, "realtime.mqtt.topic must not be empty")
	}
	return errs
}

// validLevels are the alert levels accepted by realtime.push.minlevel
var validLevels = []string{"INFO", "WARNING", "ERROR"}

func validatePushSettings(s *Settings) []string {
	p := &s.Realtime.Push
	if !p.Enabled {
		return nil
	}

	var errs []string
	if len(p.URLs) == 0 {
		errs = append(errs, "realtime.push.urls must contain at least one service URL")
	}
	if !lo.Contains(validLevels, strings.ToUpper(p.MinLevel)) {
		errs = append(errs, fmt.Sprintf("realtime.push.minlevel must be one of %v", validLevels))
	}
	if p.RateLimit <= 0 || p.Burst <= 0 {
		errs = append(errs, "realtime.push.ratelimit and burst must be positive")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	w := &s.WebServer
	if !w.Enabled {
		return nil
	}

	var errs []string
	if _, _, err := net.SplitHostPort(w.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("webserver.listen: %v", err))
	}
	if w.MaxUploadBytes <= 0 {
		errs = append(errs, "webserver.maxuploadbytes must be positive")
	}
	return errs
}

func validateOutputSettings(s *Settings) []string {
	var errs []string
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		errs = append(errs, "only one of output.sqlite and output.mysql can be enabled")
	}
	if s.Output.SQLite.Enabled && strings.TrimSpace(s.Output.SQLite.Path) == "" {
		errs = append(errs, "output.sqlite.path must not be empty")
	}
	if s.Output.MySQL.Enabled && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == "") {
		errs = append(errs, "output.mysql.host and database are required")
	}
	return errs
}
