package util

import "regexp"

var disallowedNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeName replaces characters a container/volume name may not contain
// with underscores, adapted from the teacher's SanitizeDockerName.
func SanitizeName(s string) string {
	return disallowedNameChars.ReplaceAllString(s, "_")
}
