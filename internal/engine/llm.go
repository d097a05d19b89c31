package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anatolykoptev/go-kit/llm"
	"golang.org/x/time/rate"
)

// llmLimiter throttles outbound completions; nil means unlimited.
var llmLimiter *rate.Limiter

func initLLMLimiter(perSec float64) {
	if perSec <= 0 {
		llmLimiter = nil
		return
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	llmLimiter = rate.NewLimiter(rate.Limit(perSec), burst)
}

func waitLLM(ctx context.Context) error {
	if llmLimiter == nil {
		return nil
	}
	return llmLimiter.Wait(ctx)
}

// stripFences removes markdown code fences from LLM output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// CallLLM sends system and user prompts using the configured client.
func CallLLM(ctx context.Context, system, prompt string, opts ...llm.ChatOption) (string, error) {
	if cfg.LLMClient == nil {
		return "", errors.New("llm client not configured")
	}
	if err := waitLLM(ctx); err != nil {
		return "", err
	}
	metrics.LLMCalls.Add(1)
	resp, err := cfg.LLMClient.Complete(ctx, system, prompt, opts...)
	if err != nil {
		metrics.LLMErrors.Add(1)
		return "", err
	}
	return stripFences(resp), nil
}

// CompleteFunc is a single non-streaming completion.
type CompleteFunc func(ctx context.Context, system, prompt string) (string, error)

// CompleteWith binds a dedicated client (fact search) to the shared rate
// limiter and LLM counters.
func CompleteWith(client *llm.Client, opts ...llm.ChatOption) CompleteFunc {
	return func(ctx context.Context, system, prompt string) (string, error) {
		if client == nil {
			return "", errors.New("llm client not configured")
		}
		if err := waitLLM(ctx); err != nil {
			return "", err
		}
		metrics.LLMCalls.Add(1)
		resp, err := client.Complete(ctx, system, prompt, opts...)
		if err != nil {
			metrics.LLMErrors.Add(1)
			return "", err
		}
		return resp, nil
	}
}

// DecodeJSONObject parses raw as T, falling back to the outermost {...} span
// when the model wrapped the object in prose or fences.
func DecodeJSONObject[T any](raw string) (*T, error) {
	var out T
	clean := stripFences(raw)
	if err := json.Unmarshal([]byte(clean), &out); err == nil {
		return &out, nil
	}
	obj := ExtractJSONObject(clean)
	if obj == "" {
		return nil, fmt.Errorf("no json object in %q", TruncateRunes(clean, 200, "..."))
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil, fmt.Errorf("parse json object: %w", err)
	}
	return &out, nil
}

// ExtractJSONObject returns the substring from the first '{' to the last '}'.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
