package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	stealth "github.com/anatolykoptev/go-stealth"
)

// BrowserClient is the TLS-fingerprinted client used for YouTube page scrapes.
type BrowserClient = stealth.BrowserClient

func ChromeHeaders() map[string]string { return stealth.ChromeHeaders() }
func RandomUserAgent() string          { return stealth.RandomUserAgent() }

// maxPageBytes caps page bodies read over plain HTTP.
const maxPageBytes = 8 << 20

// FetchPage GETs a page through the browser client when configured,
// otherwise through the plain HTTP client with Chrome-like headers.
func FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	metrics.FetchRequests.Add(1)
	body, err := fetchPage(ctx, pageURL)
	if err != nil {
		metrics.FetchErrors.Add(1)
	}
	return body, err
}

func fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	headers := ChromeHeaders()
	headers["accept-language"] = "en-US,en;q=0.9"

	if bc := cfg.BrowserClient; bc != nil {
		return RetryDo(ctx, DefaultRetryConfig, func() ([]byte, error) {
			data, _, status, err := bc.Do(http.MethodGet, pageURL, headers, nil)
			if err != nil {
				return nil, err
			}
			if IsRetryableStatus(status) {
				return nil, &httpStatusError{StatusCode: status}
			}
			if status != http.StatusOK {
				return nil, fmt.Errorf("fetch %s: status %d", pageURL, status)
			}
			return data, nil
		})
	}

	resp, err := RetryHTTP(ctx, DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		// Let net/http negotiate and decode compression itself.
		req.Header.Del("accept-encoding")
		return cfg.HTTPClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}
