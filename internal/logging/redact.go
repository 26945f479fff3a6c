package logging

import "regexp"

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Both the completion gateway key and the store token can end up in error
// strings; scrub the common shapes before they reach a log line.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9-]{20,}`),
	regexp.MustCompile(`(?i)(token|key|secret)[=:]\s*["']?[a-zA-Z0-9+/=_-]{24,}["']?`),
}

// Redact replaces credential-shaped substrings in s.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}
