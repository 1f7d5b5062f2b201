package logger

import (
	"regexp"
	"strings"
)

var apiKeyParam = regexp.MustCompile(`(api_key=)[^&\s"]+`)

// RedactSecret masks a credential for safe logging.
// "wk_1234567890abcdef" → "wk***ef"
// Short values (≤6 chars) are fully masked: "abc" → "***"
func RedactSecret(secret string) string {
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:2] + "***" + secret[len(secret)-2:]
}

// RedactURL masks the api_key query parameter inside a URL or error string.
func RedactURL(s string) string {
	return apiKeyParam.ReplaceAllString(s, "${1}***")
}

func redactSecretValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "api_key") || strings.Contains(key, "apikey") || strings.Contains(key, "password") {
		return RedactSecret(val)
	}
	// Redact any embedded api_key query params in generic fields
	return RedactURL(val)
}
