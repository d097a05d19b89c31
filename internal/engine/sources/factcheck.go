package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

const (
	defaultFactMaxResults = 7
	// factTranscriptLimit caps the transcript sent to search-backed models.
	factTranscriptLimit = 8000
)

// PerplexitySearcher asks a search-grounded model (Perplexity sonar) to
// fact-check the transcript and answer in JSON.
type PerplexitySearcher struct {
	Complete   engine.CompleteFunc
	MaxResults int
}

func (p PerplexitySearcher) Search(ctx context.Context, transcript string) (engine.FactReport, error) {
	if p.Complete == nil {
		return engine.FactReport{}, errors.New("perplexity client not configured")
	}
	if strings.TrimSpace(transcript) == "" {
		return engine.FactReport{}, errors.New("empty transcript")
	}
	limit := maxOrDefault(p.MaxResults)
	raw, err := p.Complete(ctx,
		fmt.Sprintf(engine.FactCheckSystemPrompt, limit),
		fmt.Sprintf(engine.FactCheckUserPrompt, engine.TruncateRunes(transcript, factTranscriptLimit, "..."), limit),
	)
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("perplexity: %w", err)
	}
	report, err := engine.DecodeJSONObject[engine.FactReport](raw)
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("perplexity: %w", err)
	}
	return report.Limit(limit), nil
}

// SearxngSearcher runs the open pipeline: the LLM writes a query, SearXNG
// finds sources, pages are fetched, and the LLM judges them.
type SearxngSearcher struct {
	Complete   engine.CompleteFunc
	MaxResults int
	Logger     *slog.Logger
}

func (s SearxngSearcher) Search(ctx context.Context, transcript string) (engine.FactReport, error) {
	if s.Complete == nil {
		return engine.FactReport{}, errors.New("llm client not configured")
	}
	if strings.TrimSpace(transcript) == "" {
		return engine.FactReport{}, errors.New("empty transcript")
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := maxOrDefault(s.MaxResults)
	clipped := engine.TruncateRunes(transcript, factTranscriptLimit, "...")

	query, err := s.Complete(ctx, "", fmt.Sprintf(engine.FactQueryPrompt, clipped))
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("fact query: %w", err)
	}
	query = strings.Trim(strings.TrimSpace(query), `"`)
	if query == "" {
		return engine.FactReport{}, errors.New("fact query: empty")
	}

	results, err := engine.SearchWeb(ctx, query)
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("web search: %w", err)
	}
	results = engine.DedupByDomain(engine.FilterByScore(results, 0.5, 3), 2)
	if len(results) > limit {
		results = results[:limit]
	}
	if len(results) == 0 {
		log.Info("fact search found nothing", slog.String("query", query))
		return engine.FactReport{}, nil
	}

	contents := engine.FetchContentsParallel(ctx, results)
	sources := engine.BuildSourcesText(results, contents, engine.Cfg.MaxContentChars)
	raw, err := s.Complete(ctx, "", fmt.Sprintf(engine.FactJudgePrompt, clipped, limit, sources))
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("fact judge: %w", err)
	}
	report, err := engine.DecodeJSONObject[engine.FactReport](raw)
	if err != nil {
		return engine.FactReport{}, fmt.Errorf("fact judge: %w", err)
	}
	return report.Limit(limit), nil
}

func maxOrDefault(n int) int {
	if n <= 0 {
		return defaultFactMaxResults
	}
	return n
}
