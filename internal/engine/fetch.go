package engine

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

var (
	wsRe        = regexp.MustCompile(`[ \t]+`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "iframe", "svg",
	"header", "footer", "nav", "aside", "form",
	".advertisement", ".ad", ".sidebar", ".comments",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
}, ", ")

// FetchURLContent fetches a web page and returns its title and main content
// as markdown, capped at MaxContentChars.
func FetchURLContent(ctx context.Context, rawURL string) (title, content string, err error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	body, err := FetchPage(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	title, content = ExtractMainContent(body)
	return title, TruncateRunes(content, cfg.MaxContentChars, "..."), nil
}

// ExtractMainContent strips page chrome and converts the main block to markdown.
// Falls back to collapsed plain text when conversion fails.
func ExtractMainContent(body []byte) (title, content string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", CleanHTML(string(body))
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find("meta[property='og:title']").First().Attr("content")
	}

	doc.Find(noiseSelectors).Remove()

	sel := doc.Find("article, main, .content, .post-content, .article-content, #content").First()
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}

	html, err := sel.Html()
	if err == nil {
		if md, convErr := htmltomarkdown.ConvertString(html); convErr == nil {
			return title, normalizeSpace(md)
		}
	}
	return title, normalizeSpace(sel.Text())
}

func normalizeSpace(s string) string {
	s = wsRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLineRe.ReplaceAllString(s, "\n\n"))
}
