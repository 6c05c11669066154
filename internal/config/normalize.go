package config

import (
	"regexp"
	"strings"
)

// DefaultInstanceID is used when a caller supplies no instance name.
const DefaultInstanceID = "main"

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeInstanceID converts a user-provided instance name into a safe
// identifier. Instance ids become filenames (the per-instance auth
// database), so the character set is deliberately tight:
//   - lowercase, max 64 chars
//   - only [a-z0-9_-]
//   - invalid runs collapse to "-", leading/trailing dashes stripped
//   - empty result falls back to "main"
func NormalizeInstanceID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultInstanceID
	}

	lower := strings.ToLower(trimmed)
	if validIDRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultInstanceID
	}
	return result
}
