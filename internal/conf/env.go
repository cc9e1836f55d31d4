// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Secrets
		{"enrichment.apikey", "CHESTGUARD_GEMINI_API_KEY", nil},
		{"output.mysql.password", "CHESTGUARD_MYSQL_PASSWORD", nil},
		{"storage.ftp.password", "CHESTGUARD_FTP_PASSWORD", nil},
		{"storage.sftp.password", "CHESTGUARD_SFTP_PASSWORD", nil},
		{"mqtt.password", "CHESTGUARD_MQTT_PASSWORD", nil},
		{"telemetry.dsn", "CHESTGUARD_SENTRY_DSN", nil},

		// Endpoints
		{"webserver.listen", "CHESTGUARD_LISTEN", nil},
		{"binary.baseurl", "CHESTGUARD_BINARY_URL", validateEnvURL},
		{"storage.publicbaseurl", "CHESTGUARD_PUBLIC_BASE_URL", validateEnvURL},
		{"storage.type", "CHESTGUARD_STORAGE_TYPE", validateEnvStorageType},

		// Model
		{"multilabel.modelpath", "CHESTGUARD_MODEL_PATH", validateEnvPath},
		{"multilabel.threads", "CHESTGUARD_THREADS", validateEnvThreads},
		{"multilabel.usexnnpack", "CHESTGUARD_USEXNNPACK", validateEnvBool},

		// Database
		{"output.sqlite.path", "CHESTGUARD_SQLITE_PATH", validateEnvPath},
		{"output.mysql.enabled", "CHESTGUARD_MYSQL_ENABLED", validateEnvBool},
		{"output.mysql.host", "CHESTGUARD_MYSQL_HOST", nil},

		{"enrichment.enabled", "CHESTGUARD_ENRICHMENT_ENABLED", validateEnvBool},
		{"debug", "CHESTGUARD_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid threads: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", threads)
	}
	return nil
}

func validateEnvPath(value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains null byte")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func validateEnvStorageType(value string) error {
	switch strings.ToLower(value) {
	case StorageLocal, StorageFTP, StorageSFTP:
		return nil
	default:
		return fmt.Errorf("storage type must be local, ftp or sftp, got %q", value)
	}
}
