// Package redact masks personal data and secrets before they reach logs.
package redact

import "strings"

// Email keeps the first two characters of the local part and the domain.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || domain == "" {
		return "***"
	}

	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token keeps a short prefix so log lines can be correlated without exposing the secret.
func Token(s string) string {
	if len(s) <= 8 {
		return "[REDACTED_TOKEN]"
	}
	return s[:4] + "…[REDACTED_TOKEN]"
}
