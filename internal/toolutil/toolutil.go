// Package toolutil provides input normalisation shared by the MCP tools and
// the REST handlers.
package toolutil

import (
	"strings"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// NormLang normalises a language code. "auto" and blank both mean
// detection and map to "".
func NormLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "auto" {
		return ""
	}
	return lang
}

// NormURLs trims each URL and drops blanks and repeats of the same video.
// Order is preserved.
func NormURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		id := engine.VideoID(u)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, u)
	}
	return out
}

// Clamp bounds n to [lo, hi]; zero or negative n yields def.
func Clamp(n, def, lo, hi int) int {
	if n <= 0 {
		return def
	}
	return max(lo, min(n, hi))
}
