package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// Markers of the JSON blobs YouTube embeds in page scripts.
const (
	ytInitialDataMarker           = "ytInitialData"
	ytInitialPlayerResponseMarker = "ytInitialPlayerResponse"
)

// fetchYouTubePage GETs a YouTube page with browser headers.
func fetchYouTubePage(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := engine.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("youtube page %s: %w", pageURL, err)
	}
	return body, nil
}

// embeddedJSON finds the `<marker> = {...};` assignment inside the page's
// inline scripts and returns the object bytes.
func embeddedJSON(page []byte, marker string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var found []byte
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" && n.FirstChild != nil {
			if obj := jsonAfterMarker(n.FirstChild.Data, marker); obj != nil {
				found = obj
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return nil, errors.New(marker + " not found in page")
	}
	return found, nil
}

// jsonAfterMarker extracts the object literal assigned to marker in script.
func jsonAfterMarker(script, marker string) []byte {
	for from := 0; ; {
		i := strings.Index(script[from:], marker)
		if i < 0 {
			return nil
		}
		rest := strings.TrimLeft(script[from+i+len(marker):], " \t\r\n")
		from += i + len(marker)
		// Accept `marker = {` and `marker"] = {`.
		rest = strings.TrimLeft(rest, `"']`)
		rest = strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if obj := extractJSON([]byte(rest)); obj != nil {
			return obj
		}
	}
}

// extractJSON returns the balanced {...} object at the start of b.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
