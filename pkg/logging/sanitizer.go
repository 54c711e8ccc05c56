// Package logging removes credentials from values before they reach the logs.
package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxValueLogLength is the number of runes of a translation value that is logged.
	MaxValueLogLength = 80
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx in key/value connection strings
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in postgres:// and redis:// URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Authorization headers echoed back by provider SDKs
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`)

	// Machine translation provider keys (sk-..., sk-ant-...)
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`)

	// api_key=..., x-api-key: ...
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|x-api-key)(["']?\s*[:=]\s*["']?)[A-Za-z0-9._-]{16,}`)
)

// SanitizeConnectionString removes credentials from a PostgreSQL or Redis
// connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns the error text with connection credentials and
// provider API keys removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}${2}"+RedactedText)
	return providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
}

// TruncateString shortens s to at most maxLen runes, adding an ellipsis when
// anything was cut.
func TruncateString(s string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// Preview returns a translation value shortened for debug logs.
func Preview(value string) string {
	return TruncateString(value, MaxValueLogLength)
}
