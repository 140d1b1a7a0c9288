package util

import (
	"html"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports markup or template fragments in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// IsValidIdentifier accepts the user ids that may be embedded in provider references.
func IsValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
