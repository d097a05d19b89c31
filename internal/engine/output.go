package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxParallelFetches bounds page fetches for one fact check.
const maxParallelFetches = 4

// Text renders the channel report as the evidence block fed to synthesis.
func (r ChannelReport) Text() string {
	var sb strings.Builder
	m := r.Meta
	fmt.Fprintf(&sb, "Channel: %s (%s)\n", m.Name, m.URL)
	if m.Subscribers != "" || m.VideoCount != "" || m.ViewCount != "" {
		fmt.Fprintf(&sb, "Stats: %s\n", JoinNonEmpty(", ", m.Subscribers, m.VideoCount, m.ViewCount))
	}
	if m.Country != "" || m.Joined != "" {
		fmt.Fprintf(&sb, "Origin: %s\n", JoinNonEmpty(", ", m.Country, m.Joined))
	}
	if m.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", TruncateAtWord(m.Description, 600))
	}
	for _, l := range m.Links {
		fmt.Fprintf(&sb, "Link: %s %s\n", l.Title, l.URL)
	}
	if len(m.RecentTitles) > 0 {
		fmt.Fprintf(&sb, "Recent uploads: %s\n", strings.Join(m.RecentTitles, " | "))
	}
	if len(m.Mentions) > 0 {
		fmt.Fprintf(&sb, "Social mentions: %d\n", len(m.Mentions))
	}
	if r.Assessment != "" {
		fmt.Fprintf(&sb, "Assessment: %s\n", strings.TrimSpace(r.Assessment))
	}
	return strings.TrimSpace(sb.String())
}

// Text renders the fact report with supports/contradicts markers.
func (r FactReport) Text() string {
	var sb strings.Builder
	for i, s := range r.Sources {
		mark := "contradicts"
		if s.Supports {
			mark = "supports"
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n    %s\n", i+1, mark, s.URL, strings.TrimSpace(s.Assessment))
	}
	if r.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", strings.TrimSpace(r.Summary))
	}
	if sb.Len() == 0 {
		return "No relevant sources found."
	}
	return strings.TrimSpace(sb.String())
}

// Limit keeps at most n sources.
func (r FactReport) Limit(n int) FactReport {
	if n > 0 && len(r.Sources) > n {
		r.Sources = r.Sources[:n]
	}
	return r
}

// MetaJSON is the indented channel metadata used in assessment prompts.
func (m ChannelMeta) MetaJSON(limit int) string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m.Name
	}
	return TruncateRunes(string(data), limit, "")
}

// FetchContentsParallel fetches main text from result URLs with bounded parallelism.
// Failed fetches are skipped.
func FetchContentsParallel(ctx context.Context, results []SearxngResult) map[string]string {
	contents := make(map[string]string, len(results))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for _, r := range results {
		g.Go(func() error {
			_, text, err := FetchURLContent(gctx, r.URL)
			if err == nil && text != "" {
				mu.Lock()
				contents[r.URL] = text
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return contents
}
