package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatStreamer streams chat completions from an OpenAI-compatible endpoint.
type ChatStreamer struct {
	base        string
	key         string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewChatStreamer builds a streamer for base (e.g. https://api.openai.com/v1).
// A nil client means http.DefaultClient; the caller's context bounds each stream.
func NewChatStreamer(base, key, model string, client *http.Client) *ChatStreamer {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatStreamer{
		base:   strings.TrimRight(base, "/"),
		key:    key,
		model:  model,
		client: client,
	}
}

// WithSampling sets temperature and max tokens; zero values are omitted.
func (s *ChatStreamer) WithSampling(temperature float64, maxTokens int) *ChatStreamer {
	s.temperature = temperature
	s.maxTokens = maxTokens
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamComplete sends one streaming completion and calls onDelta for every
// non-empty content delta, in arrival order. It returns the concatenated text.
// An error from onDelta aborts the stream.
func (s *ChatStreamer) StreamComplete(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	if err := waitLLM(ctx); err != nil {
		return "", err
	}
	metrics.LLMCalls.Add(1)
	text, err := s.stream(ctx, system, prompt, onDelta)
	if err != nil {
		metrics.LLMErrors.Add(1)
	}
	return text, err
}

func (s *ChatStreamer) stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatStreamRequest{
		Model:       s.model,
		Messages:    msgs,
		Stream:      true,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", err
	}

	// Only the connection attempt is retried; once deltas flow the stream is not replayed.
	resp, err := RetryHTTP(ctx, DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if s.key != "" {
			req.Header.Set("Authorization", "Bearer "+s.key)
		}
		return s.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return full.String(), nil
		}

		var ev chatStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return full.String(), fmt.Errorf("stream: bad event: %w", err)
		}
		if ev.Error != nil {
			return full.String(), errors.New("stream: " + ev.Error.Message)
		}
		for _, c := range ev.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			if err := onDelta(c.Delta.Content); err != nil {
				return full.String(), err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return full.String(), fmt.Errorf("stream: read: %w", err)
	}
	if ctx.Err() != nil {
		return full.String(), ctx.Err()
	}
	// Some servers close without [DONE]; treat a clean EOF as completion.
	return full.String(), nil
}
