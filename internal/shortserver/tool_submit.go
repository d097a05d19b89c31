package shortserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_shorts/internal/pipeline"
	"github.com/anatolykoptev/go_shorts/internal/toolutil"
)

const maxSubmitURLs = 50

type SubmitInput struct {
	URLs []string `json:"urls" jsonschema:"Short-video URLs to analyze (YouTube Shorts, youtu.be, watch links). Max 50."`
}

type SubmitOutput struct {
	BatchID string               `json:"batch_id"`
	Queued  int                  `json:"queued"`
	Items   []pipeline.BatchItem `json:"items"`
}

func registerSubmit(server *mcp.Server, coord Coordinator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "shorts_submit",
		Description: "Queue short videos for trust analysis. Each video is downloaded, transcribed, fact-checked, and its channel and visual content are inspected; an LLM then writes a credibility verdict. Returns immediately with a batch receipt. Already analyzed videos are served from cache and not re-run. Poll shorts_verdict or shorts_progress for results.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input SubmitInput) (*mcp.CallToolResult, SubmitOutput, error) {
		out, err := submit(ctx, coord, input)
		if err != nil {
			return nil, SubmitOutput{}, err
		}
		return nil, out, nil
	})
}

func submit(ctx context.Context, coord Coordinator, input SubmitInput) (SubmitOutput, error) {
	urls := toolutil.NormURLs(input.URLs)
	if len(urls) == 0 {
		return SubmitOutput{}, fmt.Errorf("urls is required")
	}
	if len(urls) > maxSubmitURLs {
		return SubmitOutput{}, fmt.Errorf("too many urls: %d (max %d)", len(urls), maxSubmitURLs)
	}

	b := coord.Submit(ctx, urls)
	out := SubmitOutput{BatchID: b.ID, Items: b.Items}
	for _, it := range b.Items {
		if it.Disposition == pipeline.DispositionQueued {
			out.Queued++
		}
	}
	slog.Info("shorts_submit", slog.String("batch_id", b.ID), slog.Int("urls", len(urls)), slog.Int("queued", out.Queued))
	return out, nil
}
