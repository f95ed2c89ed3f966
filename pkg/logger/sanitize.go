package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an address down to its first character and TLD,
// e.g. "p***@****.com". Account identifiers are customer PII; log lines
// must stay useful for correlation without reproducing the address.
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	local := parts[0]
	if len(local) > 1 {
		local = string(local[0]) + strings.Repeat("*", len(local)-1)
	}

	domainParts := strings.Split(parts[1], ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
	}

	return local + "@" + strings.Join(domainParts, ".")
}

// RedactedAttr logs the value verbatim in development and "[REDACTED]" in
// production.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// Substrings that mark a query string as unloggable. Matching is coarse on
// purpose: a false positive drops one harmless query from a log line, a
// false negative writes a credential to the audit trail.
var sensitiveQueryMarkers = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"apikey",
	"email",
	"apitoken",
	"auth",
	"csrf",
}

// SanitizeQueryString reports whether the raw query should be redacted
// wholesale instead of logged.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, marker := range sensitiveQueryMarkers {
		if strings.Contains(query, marker) {
			return true
		}
	}
	return false
}
