// Package secrets resolves credentials from mounted secret files (Docker or
// Kubernetes) or ${VAR} references, so config files never need to carry the
// Gemini key or storage and broker passwords in plain text.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

const (
	// maxSecretFileSize caps secret reads; tokens and passwords are small.
	maxSecretFileSize = 64 * 1024

	// group and other permission bits
	permissiveBits = 0o077
)

// ExpandString expands ${VAR} and ${VAR:-default} references in s. A
// reference without a default whose variable is unset is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, dropping trailing newlines. Files readable
// by group or other are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", secretError(errors.NewStd("secret file path is empty"), path)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", secretError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", secretError(errors.NewStd("secret path is not a regular file"), clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", secretError(errors.NewStd("secret file is too large"), clean)
	}
	if perm := info.Mode().Perm(); perm&permissiveBits != 0 {
		GetLogger().Warn("secret file is readable by group or other",
			logger.String("path", clean),
			logger.String("perm", perm.String()))
	}

	data, err := os.ReadFile(clean) //nolint:gosec // G304: operator-configured secret path
	if err != nil {
		return "", secretError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", secretError(errors.NewStd("secret file is empty"), clean)
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

// ResolveInto replaces *value with the resolved secret. field names the
// setting in errors.
func ResolveInto(field, filePath string, value *string) error {
	secret, err := Resolve(filePath, *value)
	if err != nil {
		return errors.New(err).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Build()
	}
	*value = secret
	return nil
}

func secretError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}

// GetLogger returns the secrets module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("secrets")
}
