package telemetry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	minTokenLength  = 20
	maxContentChars = 80
)

var (
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|secret|password|passwd|pwd|auth|authorization)[\s:=]+["']?([^\s"']+)`)

	sensitiveKeys = map[string]bool{
		"api_key":       true,
		"apikey":        true,
		"token":         true,
		"secret":        true,
		"password":      true,
		"auth":          true,
		"authorization": true,
		"client_secret": true,
		"access_token":  true,
		"refresh_token": true,
		"private_key":   true,
		"credentials":   true,
	}

	// Arguments carrying script source or sheet data. Only a short prefix and
	// the size reach a span.
	contentKeys = map[string]bool{
		"find":         true,
		"replace":      true,
		"unified_diff": true,
		"content":      true,
		"values":       true,
		"rows":         true,
	}

	sensitiveQueryParams = map[string]bool{
		"api_key":      true,
		"access_token": true,
		"key":          true,
		"code":         true,
		"state":        true,
	}
)

// SanitiseURL strips credentials and secret-looking query parameters.
func SanitiseURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return "[INVALID_URL]"
	}
	parsed.User = nil
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			lower := strings.ToLower(key)
			if sensitiveQueryParams[lower] || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
				query.Set(key, "[REDACTED]")
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// SanitiseArguments renders tool arguments as JSON with secrets redacted and
// source content shortened.
func SanitiseArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	out, err := json.Marshal(sanitiseMap(args))
	if err != nil {
		return `{"error": "failed to serialise arguments"}`
	}
	return string(out)
}

func sanitiseMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	sanitised := make(map[string]any, len(m))
	for key, value := range m {
		lower := strings.ToLower(key)
		switch {
		case isSensitiveKey(lower):
			sanitised[key] = "[REDACTED]"
		case contentKeys[lower]:
			sanitised[key] = summariseContent(value)
		default:
			switch v := value.(type) {
			case map[string]any:
				sanitised[key] = sanitiseMap(v)
			case string:
				sanitised[key] = sanitiseString(v)
			default:
				sanitised[key] = value
			}
		}
	}
	return sanitised
}

func isSensitiveKey(lower string) bool {
	return sensitiveKeys[lower] ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") ||
		strings.Contains(lower, "password")
}

func summariseContent(value any) any {
	switch v := value.(type) {
	case string:
		if len(v) <= maxContentChars {
			return v
		}
		return fmt.Sprintf("%s...[TRUNCATED %d bytes]", v[:maxContentChars], len(v))
	case []any:
		return fmt.Sprintf("[%d items]", len(v))
	default:
		return value
	}
}

func sanitiseString(s string) string {
	if s == "" {
		return s
	}
	if apiKeyPattern.MatchString(s) {
		return apiKeyPattern.ReplaceAllString(s, "$1=[REDACTED]")
	}
	// Script IDs are long token-like strings too, so only Google OAuth token prefixes are redacted
	if len(s) > minTokenLength && looksLikeToken(s) && (strings.HasPrefix(s, "ya29.") || strings.HasPrefix(s, "1//")) {
		return s[:4] + "...[REDACTED]"
	}
	return s
}

// looksLikeToken reports whether s only holds characters common in bearer tokens.
func looksLikeToken(s string) bool {
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.' || c == '/') {
			return false
		}
	}
	return true
}

// TruncateString truncates s to maxLen bytes including a trailing ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
