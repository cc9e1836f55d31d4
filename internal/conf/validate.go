// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateStorageSettings(&s.Storage) },
		func(s *Settings) error { return validateInferenceSettings(s) },
		func(s *Settings) error { return validateFusionSettings(&s.Fusion) },
		func(s *Settings) error { return validateEnrichmentSettings(&s.Enrichment) },
		validateOutputSettings,
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Listen == "" {
		return fmt.Errorf("webserver listen address is required")
	}
	if settings.MaxConnections < 0 {
		return fmt.Errorf("webserver maxconnections must be >= 0")
	}
	return nil
}

func validateStorageSettings(settings *StorageSettings) error {
	var errs []string

	switch strings.ToLower(settings.Type) {
	case StorageLocal:
		if settings.Local.Path == "" {
			errs = append(errs, "storage local path is required")
		}
	case StorageFTP:
		if settings.FTP.Host == "" {
			errs = append(errs, "storage ftp host is required")
		}
	case StorageSFTP:
		if settings.SFTP.Host == "" {
			errs = append(errs, "storage sftp host is required")
		}
		if settings.SFTP.Password == "" && settings.SFTP.KeyFile == "" {
			errs = append(errs, "storage sftp requires a password or keyfile")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage type %q", settings.Type))
	}

	if settings.PublicBaseURL == "" {
		errs = append(errs, "storage publicbaseurl is required")
	} else if _, err := url.ParseRequestURI(settings.PublicBaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("storage publicbaseurl is invalid: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("storage settings errors: %v", errs)
	}
	return nil
}

func validateInferenceSettings(s *Settings) error {
	var errs []string

	if !s.Multilabel.Enabled && !s.Binary.Enabled {
		errs = append(errs, "at least one of multilabel or binary inference must be enabled")
	}

	if s.Multilabel.Enabled {
		if s.Multilabel.ModelPath == "" {
			errs = append(errs, "multilabel modelpath is required")
		}
		if s.Multilabel.InputSize <= 0 {
			errs = append(errs, "multilabel inputsize must be positive")
		}
		if s.Multilabel.Threads < 0 {
			errs = append(errs, "multilabel threads must be >= 0")
		}
		if s.Multilabel.MaxRetries < 1 {
			errs = append(errs, "multilabel maxretries must be at least 1")
		}
	}

	if s.Binary.Enabled {
		if u, err := url.Parse(s.Binary.BaseURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("binary baseurl %q is invalid", s.Binary.BaseURL))
		}
		if s.Binary.MaxRetries < 1 {
			errs = append(errs, "binary maxretries must be at least 1")
		}
		if s.Binary.Timeout <= 0 || s.Binary.HealthTimeout <= 0 {
			errs = append(errs, "binary timeouts must be positive")
		}
		if s.Binary.RateLimit < 0 {
			errs = append(errs, "binary ratelimit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("inference settings errors: %v", errs)
	}
	return nil
}

func validateFusionSettings(settings *FusionSettings) error {
	var errs []string
	check := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0, 1], got %g", name, v))
		}
	}
	check("pneumoniathreshold", settings.PneumoniaThreshold)
	check("tbthreshold", settings.TBThreshold)
	check("normalthreshold", settings.NormalThreshold)

	if len(errs) > 0 {
		return fmt.Errorf("fusion settings errors: %v", errs)
	}
	return nil
}

func validateEnrichmentSettings(settings *EnrichmentSettings) error {
	var errs []string

	switch settings.Store {
	case EnrichmentStoreMemory, EnrichmentStoreDatabase:
	default:
		errs = append(errs, fmt.Sprintf("enrichment store must be memory or database, got %q", settings.Store))
	}
	if settings.DailyLimit < 0 {
		errs = append(errs, "enrichment dailylimit must be >= 0")
	}
	if settings.MinInterval < 0 {
		errs = append(errs, "enrichment mininterval must be >= 0")
	}
	if _, err := settings.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("enrichment timezone %q is invalid", settings.Timezone))
	}

	// A missing key is not fatal; enrichment degrades to fallback results.
	if settings.Enabled && settings.APIKey == "" {
		GetLogger().Warn("enrichment enabled without an API key, results will use fallback analysis")
	}

	if len(errs) > 0 {
		return fmt.Errorf("enrichment settings errors: %v", errs)
	}
	return nil
}

func validateOutputSettings(s *Settings) error {
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		return fmt.Errorf("output settings errors: one of sqlite or mysql must be enabled")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output settings errors: sqlite path is required")
	}
	if s.Output.MySQL.Enabled && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == "") {
		return fmt.Errorf("output settings errors: mysql host and database are required")
	}
	if s.Enrichment.Store == EnrichmentStoreDatabase && s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		GetLogger().Warn("database enrichment store on sqlite is only shared by instances using the same file")
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	if settings.Topic == "" {
		return fmt.Errorf("mqtt topic is required when mqtt is enabled")
	}
	return nil
}
