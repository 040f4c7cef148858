// Package reply turns one generated reply into the short messages a person
// would actually send.
package reply

import "strings"

// Delimiter separates fragments inside a generated reply.
const Delimiter = "|||"

// Split divides raw into trimmed, non-empty fragments. When no fragment
// survives, the whole trimmed text is returned as the only element.
func Split(raw string) []string {
	parts := strings.Split(raw, Delimiter)
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		fragments = append(fragments, trimmed)
	}

	if len(fragments) == 0 {
		return []string{strings.TrimSpace(raw)}
	}
	return fragments
}
