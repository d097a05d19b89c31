package shortserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_shorts/internal/pipeline"
	"github.com/anatolykoptev/go_shorts/internal/toolutil"
)

type VerdictInput struct {
	URL         string `json:"url" jsonschema:"Video URL previously passed to shorts_submit"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"Wait up to this many seconds for a running analysis to finish (default 0, max 120)"`
}

type VerdictOutput struct {
	Status        string `json:"status"`
	VideoID       string `json:"video_id"`
	Message       string `json:"message,omitempty"`
	FailureKind   string `json:"failure_kind,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	FailedAt      string `json:"failed_at,omitempty"`
}

func registerVerdict(server *mcp.Server, coord Coordinator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "shorts_verdict",
		Description: "Get the cached trust verdict for a short video. Status is ready (message holds the verdict), failed (failure holds the reason), or not_found (never submitted, or still running).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input VerdictInput) (*mcp.CallToolResult, VerdictOutput, error) {
		out, err := verdict(ctx, coord, input)
		if err != nil {
			return nil, VerdictOutput{}, err
		}
		return nil, out, nil
	})
}

func verdict(ctx context.Context, coord Coordinator, input VerdictInput) (VerdictOutput, error) {
	u := strings.TrimSpace(input.URL)
	if u == "" {
		return VerdictOutput{}, fmt.Errorf("url is required")
	}
	if input.WaitSeconds > 0 {
		wait := time.Duration(toolutil.Clamp(input.WaitSeconds, 0, 1, 120)) * time.Second
		if err := waitDone(ctx, coord, u, wait); err != nil && ctx.Err() != nil {
			return VerdictOutput{}, err
		}
	}
	return toVerdictOutput(coord.Query(ctx, u)), nil
}

func toVerdictOutput(res pipeline.QueryResult) VerdictOutput {
	out := VerdictOutput{Status: string(res.Status), VideoID: res.VideoID, Message: res.Text}
	if f := res.Failure; f != nil {
		out.FailureKind = string(f.Kind)
		out.FailureReason = f.Reason
		out.FailedAt = f.At.UTC().Format(time.RFC3339)
	}
	return out
}

// waitDone blocks until the live run for u closes its log or wait elapses.
func waitDone(ctx context.Context, coord Coordinator, u string, wait time.Duration) error {
	log, ok := coord.Progress(u)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	from := 0
	for {
		chunks, closed, err := log.Next(ctx, from)
		if err != nil || closed {
			return err
		}
		from += len(chunks)
	}
}
