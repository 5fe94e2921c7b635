package backend

import "strings"

// JoinURL joins parts with single slashes and always ends with a trailing
// slash, the form the backend routes expect.
func JoinURL(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			cleaned = append(cleaned, part)
		}
	}
	return strings.Join(cleaned, "/") + "/"
}
