package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const ddgLiteURL = "https://html.duckduckgo.com/html/"

// SearchDDGDirect queries the DuckDuckGo HTML lite endpoint through the
// stealth browser client. Results carry a flat score of 1.
func SearchDDGDirect(ctx context.Context, bc *BrowserClient, query string) ([]SearxngResult, error) {
	if bc == nil {
		return nil, errors.New("ddg: browser client not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.SearchRequests.Add(1)

	form := url.Values{"q": {query}, "kl": {"wt-wt"}}.Encode()
	headers := ChromeHeaders()
	headers["referer"] = "https://html.duckduckgo.com/"
	headers["content-type"] = "application/x-www-form-urlencoded"

	data, _, status, err := bc.Do("POST", ddgLiteURL, headers, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("ddg: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("ddg: status %d", status)
	}
	return parseDDGHTML(data)
}

func parseDDGHTML(data []byte) ([]SearxngResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ddg parse: %w", err)
	}
	var results []SearxngResult
	doc.Find(".result, .web-result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a, .result__title a").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if !ok || title == "" {
			return
		}
		if href = ddgUnwrapURL(href); href == "" {
			return
		}
		results = append(results, SearxngResult{
			Title:   title,
			URL:     href,
			Content: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
			Score:   1.0,
		})
	})
	return results, nil
}

// ddgUnwrapURL resolves //duckduckgo.com/l/?uddg=<target> redirect links.
func ddgUnwrapURL(href string) string {
	if strings.Contains(href, "uddg=") {
		if u, err := url.Parse(href); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return ""
}

// SearchWeb queries SearXNG and falls back to DuckDuckGo when SearXNG fails
// or finds nothing and a browser client is configured.
func SearchWeb(ctx context.Context, query string) ([]SearxngResult, error) {
	results, err := SearchSearXNG(ctx, query, "all", "")
	if err == nil && len(results) > 0 {
		return results, nil
	}
	if cfg.BrowserClient == nil {
		return results, err
	}
	if err != nil {
		slog.Debug("searxng failed, trying ddg", slog.Any("error", err))
	}
	ddg, ddgErr := SearchDDGDirect(ctx, cfg.BrowserClient, query)
	if ddgErr != nil {
		return nil, errors.Join(err, ddgErr)
	}
	return ddg, nil
}
