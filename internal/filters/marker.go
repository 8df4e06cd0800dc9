package filters

import "strings"

// markerTokens are substrings that, anywhere in a path, mark it as a
// conflict-rename or rejected-rename target. They short-circuit the sync
// engine's reconcile loop: a marked path is never auto-applied.
var markerTokens = []string{".conflict", ".rejected", "syftconflict", "syftrejected"}

// IsMarkedPath reports whether path contains any known conflict/rejected
// marker token.
func IsMarkedPath(path string) bool {
	for _, tok := range markerTokens {
		if strings.Contains(path, tok) {
			return true
		}
	}
	return false
}
