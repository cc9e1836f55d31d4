package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitivePatterns match credentials embedded in free text such as error
// messages or URLs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token)=)([^&\s]+)`),
	regexp.MustCompile(`(?i)((?:api|access|auth|token|secret|passw(?:or)?d)[0-9a-z\-_.]*[\s:=]+)([^;,\s]{5,})`),
	regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@\s]+)(@)`),
}

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "apikey", "api_key", "authorization", "dsn",
}

// RedactSensitiveData replaces credentials found in input with [REDACTED].
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, p := range sensitivePatterns {
		if p.NumSubexp() == 3 {
			input = p.ReplaceAllString(input, "${1}"+redactedValue+"${3}")
			continue
		}
		input = p.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}
