// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/chestguard/chestguard/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "ChestGuard")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.publicurl", "http://localhost:8080")
	viper.SetDefault("webserver.bodylimit", "20M")
	viper.SetDefault("webserver.maxconnections", 256)

	viper.SetDefault("storage.type", StorageLocal)
	viper.SetDefault("storage.publicbaseurl", "http://localhost:8080/media")
	viper.SetDefault("storage.local.path", "data/media")
	viper.SetDefault("storage.ftp.port", 21)
	viper.SetDefault("storage.ftp.timeout", 30*time.Second)
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.timeout", 30*time.Second)

	viper.SetDefault("multilabel.enabled", true)
	viper.SetDefault("multilabel.modelpath", "models/chest_xray_multilabel.tflite")
	viper.SetDefault("multilabel.inputsize", DefaultInputSize)
	viper.SetDefault("multilabel.threads", 0)
	viper.SetDefault("multilabel.usexnnpack", true)
	viper.SetDefault("multilabel.loadtimeout", 30*time.Second)
	viper.SetDefault("multilabel.maxretries", 3)
	viper.SetDefault("multilabel.retrydelay", 2*time.Second)

	viper.SetDefault("binary.enabled", true)
	viper.SetDefault("binary.baseurl", "http://127.0.0.1:5000")
	viper.SetDefault("binary.timeout", 30*time.Second)
	viper.SetDefault("binary.healthtimeout", 5*time.Second)
	viper.SetDefault("binary.maxretries", 3)
	viper.SetDefault("binary.retrydelay", 2*time.Second)
	viper.SetDefault("binary.ratelimit", 5.0)

	viper.SetDefault("fusion.pneumoniathreshold", 0.5)
	viper.SetDefault("fusion.tbthreshold", 0.3)
	viper.SetDefault("fusion.normalthreshold", 0.5)

	viper.SetDefault("enrichment.enabled", false)
	viper.SetDefault("enrichment.model", "gemini-1.5-flash")
	viper.SetDefault("enrichment.mininterval", 60*time.Second)
	viper.SetDefault("enrichment.dailylimit", 50)
	viper.SetDefault("enrichment.store", EnrichmentStoreMemory)
	viper.SetDefault("enrichment.timeout", 60*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "data/chestguard.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.database", "chestguard")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "chestguard/detections")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.environment", "production")

	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file.level", logger.DefaultLogLevel)
}
