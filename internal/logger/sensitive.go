package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveDataPatterns match credentials embedded in free text such as broker URLs or DSNs
var sensitiveDataPatterns = []*regexp.Regexp{
	// user:password@host in URLs and DSNs
	regexp.MustCompile(`(?i)(://[^:/\s@]+:)([^@\s]+)(@)`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)()`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)[\s:=]+)([^;,\s&]{3,})()`),
}

// sensitiveKeywords mark field keys whose string values are never logged
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "dsn", "authorization",
}

// RedactSensitiveData replaces credentials in free text with [REDACTED]
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue+"${3}")
	}
	return input
}

func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}
