// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultClasses is the default class registry. Index order must match the model labels.
var DefaultClasses = []string{"FireExtinguisher", "ToolBox", "OxygenTank"}

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "ISS-Module")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/scanner.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("detector.backend", BackendONNX)
	viper.SetDefault("detector.modelpath", "runs/detect/train/weights/best.onnx")
	viper.SetDefault("detector.threshold", 0.5)
	viper.SetDefault("detector.classes", DefaultClasses)
	viper.SetDefault("detector.inputsize", 640)
	viper.SetDefault("detector.nmsthreshold", 0.45)
	viper.SetDefault("detector.timeout", 10*time.Second)
	viper.SetDefault("detector.remote.url", "ws://localhost:8765/ws")
	viper.SetDefault("detector.remote.dialtimeout", 5*time.Second)

	viper.SetDefault("realtime.pollinterval", 100*time.Millisecond)
	viper.SetDefault("realtime.stoptimeout", 5*time.Second)

	viper.SetDefault("realtime.camera.enabled", true)
	viper.SetDefault("realtime.camera.device", "0")
	viper.SetDefault("realtime.camera.captureinterval", 30*time.Millisecond)
	viper.SetDefault("realtime.camera.width", 0)
	viper.SetDefault("realtime.camera.height", 0)

	viper.SetDefault("realtime.alerts.maxentries", 1000)
	viper.SetDefault("realtime.alerts.buffersize", 256)

	viper.SetDefault("realtime.mqtt.enabled", false)
	viper.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("realtime.mqtt.topic", "scanner")
	viper.SetDefault("realtime.mqtt.username", "")
	viper.SetDefault("realtime.mqtt.password", "")
	viper.SetDefault("realtime.mqtt.retain", true)

	viper.SetDefault("realtime.push.enabled", false)
	viper.SetDefault("realtime.push.urls", []string{})
	viper.SetDefault("realtime.push.minlevel", "WARNING")
	viper.SetDefault("realtime.push.cooldown", 5*time.Minute)
	viper.SetDefault("realtime.push.timeout", 10*time.Second)
	viper.SetDefault("realtime.push.ratelimit", 0.2)
	viper.SetDefault("realtime.push.burst", 3)

	viper.SetDefault("realtime.telemetry.enabled", true)
	viper.SetDefault("realtime.telemetry.listen", "")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", "0.0.0.0:8080")
	viper.SetDefault("webserver.maxuploadbytes", 20<<20)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "scanner.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "scanner")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "scanner")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
