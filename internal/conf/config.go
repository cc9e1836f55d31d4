// config.go: settings struct for ChestGuard and the functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chestguard/chestguard/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// WebServerSettings controls the HTTP API listener.
type WebServerSettings struct {
	Debug          bool   // true to enable echo debug mode
	Enabled        bool   // true to start the API server
	Listen         string // address to listen on, e.g. ":8080"
	PublicURL      string // externally reachable base URL of this service
	BodyLimit      string // echo body limit, e.g. "20M"
	MaxConnections int    // concurrent connection cap, 0 disables
}

// FTPSettings configures the FTP object store.
type FTPSettings struct {
	Host     string
	Port     int
	Username     string
	Password     string
	PasswordFile string        // secret file overriding Password
	Path         string        // remote directory objects are written under
	Timeout      time.Duration // dial and command timeout
}

// SFTPSettings configures the SFTP object store.
type SFTPSettings struct {
	Host           string
	Port           int
	Username       string
	Password       string        // password authentication, used when KeyFile is empty
	PasswordFile   string        // secret file overriding Password
	KeyFile        string        // private key for public key authentication
	KnownHostsFile string        // known_hosts file, empty means ~/.ssh/known_hosts
	Path           string        // remote directory objects are written under
	Timeout        time.Duration // connection timeout
}

// StorageSettings selects and configures the object store backend.
type StorageSettings struct {
	Type          string // local, ftp or sftp
	PublicBaseURL string // base URL objects are resolvable under
	Local         struct {
		Path string // directory served under /media/
	}
	FTP  FTPSettings
	SFTP SFTPSettings
}

// MultilabelSettings configures the local three-class model.
type MultilabelSettings struct {
	Enabled     bool
	ModelPath   string        // path to the .tflite model
	LabelPath   string        // optional labels file, one label per line
	InputSize   int           // square input edge in pixels
	Threads     int           // 0 means detect from CPU
	UseXNNPACK  bool          // true to use the XNNPACK delegate
	LoadTimeout time.Duration // upper bound for one load attempt
	MaxRetries  int           // load attempts
	RetryDelay  time.Duration // linear backoff base
}

// BinarySettings configures the remote pneumonia/tuberculosis scorer.
type BinarySettings struct {
	Enabled       bool
	BaseURL       string        // scorer base URL
	Timeout       time.Duration // /predict timeout
	HealthTimeout time.Duration // /health timeout
	MaxRetries    int           // /predict attempts
	RetryDelay    time.Duration // linear backoff base
	RateLimit     float64       // requests per second towards the scorer, 0 disables
}

// FusionSettings holds the decision thresholds.
type FusionSettings struct {
	PneumoniaThreshold float64
	TBThreshold        float64
	NormalThreshold    float64
}

// EnrichmentSettings configures the generative vision analysis.
type EnrichmentSettings struct {
	Enabled     bool
	APIKey      string        // Gemini API key, may reference ${VAR}
	APIKeyFile  string        // secret file overriding APIKey
	Model       string        // Gemini model name
	MinInterval time.Duration // minimum spacing between calls
	DailyLimit  int           // calls per day
	Store       string        // memory or database
	Timezone    string        // day rollover timezone, empty means Local
	Timeout     time.Duration // per-call timeout
}

// SQLiteSettings configures the SQLite record store.
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite output
	Path    string // path to sqlite database
}

// MySQLSettings configures the MySQL record store.
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql output
	Username string // username for mysql database
	Password     string // password for mysql database
	PasswordFile string // secret file overriding Password
	Database string // database name for mysql database
	Host     string // host for mysql database
	Port     string // port for mysql database
}

// NotificationSettings configures shoutrrr alerts for abnormal results.
type NotificationSettings struct {
	Enabled bool
	URLs    []string      // shoutrrr service URLs
	Timeout time.Duration // per-send timeout
}

// MQTTSettings configures detection event publishing.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT topic
	Username string // MQTT username
	Password     string // MQTT password
	PasswordFile string // secret file overriding Password
	ClientID string // empty generates one
	Retain   bool   // retain published messages
}

// TelemetrySettings controls Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// MetricsSettings controls the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   // true to expose /metrics
	Listen  string // separate listener, empty serves on the API server
}

// Settings contains all configuration options for ChestGuard.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Main struct {
		Name string // node name reported in events and health
	}

	WebServer  WebServerSettings
	Storage    StorageSettings
	Multilabel MultilabelSettings
	Binary     BinarySettings
	Fusion     FusionSettings
	Enrichment EnrichmentSettings

	Output struct {
		SQLite SQLiteSettings
		MySQL  MySQLSettings
	}

	Notification NotificationSettings
	MQTT         MQTTSettings
	Telemetry    TelemetrySettings
	Metrics      MetricsSettings
	Logging      logger.LoggingConfig
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config to the first default path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings writes the current settings back to the config file in use.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if settingsInstance == nil {
		return fmt.Errorf("settings not loaded")
	}
	settingsCopy := *settingsInstance

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	GetLogger().Info("settings saved", logger.String("path", configPath))
	return nil
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the target.
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName) //nolint:errcheck // already renamed on success

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// Location resolves the timezone used for the daily quota rollover. An
// empty timezone means Local.
func (e *EnrichmentSettings) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}
