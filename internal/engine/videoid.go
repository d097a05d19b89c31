package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var youtubeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// youtubePathKinds are the first path segments that carry the id as the second segment.
var youtubePathKinds = map[string]bool{
	"shorts": true,
	"embed":  true,
	"live":   true,
	"v":      true,
}

const maxSlugLen = 64

// VideoID derives the cache and dedup key for a submitted URL.
// YouTube URLs yield the 11-char video id; anything else yields a sanitized
// slug of the last path segment, or a hash when there is no usable segment.
// The result depends only on the input string.
func VideoID(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if id := youtubeID(s); id != "" {
		return id
	}
	if slug := lastSegmentSlug(s); slug != "" {
		return slug
	}
	sum := sha256.Sum256([]byte(s))
	return "u_" + hex.EncodeToString(sum[:8])
}

func parseLoose(s string) *url.URL {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil
	}
	return u
}

func youtubeID(s string) string {
	u := parseLoose(s)
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, p)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch host {
	case "youtu.be":
		if len(parts) > 0 && youtubeIDRe.MatchString(parts[0]) {
			return parts[0]
		}
	case "youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); youtubeIDRe.MatchString(v) {
			return v
		}
		if len(parts) >= 2 && youtubePathKinds[parts[0]] && youtubeIDRe.MatchString(parts[1]) {
			return parts[1]
		}
	}
	return ""
}

func lastSegmentSlug(s string) string {
	path := s
	if u := parseLoose(s); u != nil {
		path = u.Path
		if path == "" || path == "/" {
			// Bare host: the host itself is the only segment.
			path = u.Host
		}
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}

	var sb strings.Builder
	for _, r := range path {
		if sb.Len() >= maxSlugLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	slug := sb.String()
	if strings.Trim(slug, "_") == "" {
		return ""
	}
	return slug
}
