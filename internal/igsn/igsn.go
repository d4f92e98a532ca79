// Package igsn provides IGSN identifier normalization and resolution.
//
// An IGSN (International Generic Sample Number) appears in the wild in many
// textual forms: bare values, handle paths, igsn: scheme prefixes, and full
// resolver URLs. Normalize reduces all of them to the canonical uppercase
// value part.
package igsn

import "strings"

// Handle system prefix registered for IGSNs.
const HandlePrefix = "10273"

// Normalize returns the canonical value part of an IGSN.
//
// The input is trimmed and uppercased, then known URL, path, and scheme
// wrappers are stripped. An empty string is returned when the input carries a
// prefix that is not recognized as an IGSN form. Note that the prefix is not
// verified against a registry of authorities; the returned value may or may
// not be a registered IGSN.
func Normalize(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))

	// URL or path form: the second-to-last path segment identifies the scheme.
	if parts := strings.Split(value, "/"); len(parts) > 1 {
		label := strings.TrimSpace(parts[len(parts)-2])
		candidate := strings.TrimSpace(parts[len(parts)-1])
		switch label {
		case HandlePrefix, "IGSN.ORG", "IGSN", "IGSN:" + HandlePrefix:
			return candidate
		}
		return ""
	}

	// igsn:XXX scheme form.
	if parts := strings.Split(value, ":"); len(parts) > 1 {
		label := strings.TrimSpace(parts[len(parts)-2])
		candidate := strings.TrimSpace(parts[len(parts)-1])
		switch label {
		case "IGSN", HandlePrefix:
			return candidate
		}
		return ""
	}

	return value
}
