// Package secrets scrubs venue API keys, SMTP passwords, and the Postgres
// DSN out of log output before it reaches stderr, so a pasted log line
// from the engine's console output never leaks a credential.
package secrets

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Redactor replaces sensitive substrings in log output with a fixed
// placeholder. The default pattern set targets the credential shapes this
// engine actually handles: venue HMAC secrets, the Postgres DSN, and SMTP
// auth, rather than a generic catalog of every possible secret format.
type Redactor struct {
	patterns    []*regexp.Regexp
	replacement string
}

// NewRedactor builds a Redactor with the default pattern set.
func NewRedactor() *Redactor {
	defaultPatterns := []string{
		`postgres://[^:]+:[^@]+@[^/]+/[^\s?"']+`,
		`(?i)(?:api[_-]?key|secret|password|pwd|passphrase)["\s]*[:=]["\s]*[^\s"',}]+`,
		`(?i)bearer\s+[a-zA-Z0-9\-\._~\+/]+=*`,
		`(?i)X-BAPI-SIGN[^,}]*`,
		`(?i)OK-ACCESS-SIGN[^,}]*`,
	}

	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	for i, pattern := range defaultPatterns {
		patterns[i] = regexp.MustCompile(pattern)
	}

	return &Redactor{patterns: patterns, replacement: "[REDACTED]"}
}

// RedactString redacts sensitive data from a string.
func (r *Redactor) RedactString(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// RedactBytes redacts sensitive data from bytes, implementing io.Writer's
// transform step for the zerolog console writer in cmd/fundingarb.
func (r *Redactor) RedactBytes(input []byte) []byte {
	return []byte(r.RedactString(string(input)))
}

// isSensitiveKey reports whether a field key name alone suggests the value
// should never be logged verbatim, regardless of its content.
func (r *Redactor) isSensitiveKey(key string) bool {
	sensitiveKeys := []string{
		"password", "pwd", "secret", "passphrase", "dsn", "apisecret", "apikey",
	}
	lowerKey := strings.ToLower(key)
	for _, sensitiveKey := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitiveKey) {
			return true
		}
	}
	return false
}

// redactValue recursively redacts values in nested structures, used by
// RedactJSON for structured log fields.
func (r *Redactor) redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return r.RedactString(v)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			if r.isSensitiveKey(k) {
				result[k] = r.replacement
			} else {
				result[k] = r.redactValue(val)
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = r.redactValue(val)
		}
		return result
	default:
		return value
	}
}

// RedactJSON redacts sensitive data from a JSON-encoded log line, falling
// back to plain string redaction if the input isn't valid JSON.
func (r *Redactor) RedactJSON(input []byte) ([]byte, error) {
	var data interface{}
	if err := json.Unmarshal(input, &data); err != nil {
		return r.RedactBytes(input), nil
	}
	redacted := r.redactValue(data)
	return json.Marshal(redacted)
}
