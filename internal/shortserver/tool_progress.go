package shortserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_shorts/internal/engine"
	"github.com/anatolykoptev/go_shorts/internal/toolutil"
)

type ProgressInput struct {
	URL         string `json:"url" jsonschema:"Video URL previously passed to shorts_submit"`
	From        int    `json:"from,omitempty" jsonschema:"Number of chunks already seen; only later chunks are returned"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"Wait up to this many seconds for new chunks (default 0, max 60)"`
}

type ProgressOutput struct {
	VideoID string   `json:"video_id"`
	Live    bool     `json:"live"`
	Chunks  []string `json:"chunks"`
	Next    int      `json:"next"`
	Done    bool     `json:"done"`
	Error   string   `json:"error,omitempty"`
}

func registerProgress(server *mcp.Server, coord Coordinator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "shorts_progress",
		Description: "Read the verdict text streamed so far for a video that is being analyzed (or finished in the last few minutes). Pass next back as from to receive only new chunks.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ProgressInput) (*mcp.CallToolResult, ProgressOutput, error) {
		out, err := progress(ctx, coord, input)
		if err != nil {
			return nil, ProgressOutput{}, err
		}
		return nil, out, nil
	})
}

func progress(ctx context.Context, coord Coordinator, input ProgressInput) (ProgressOutput, error) {
	u := strings.TrimSpace(input.URL)
	if u == "" {
		return ProgressOutput{}, fmt.Errorf("url is required")
	}
	from := max(input.From, 0)
	out := ProgressOutput{VideoID: engine.VideoID(u), Next: from, Chunks: []string{}}

	log, ok := coord.Progress(u)
	if !ok {
		return out, nil
	}
	out.Live = true

	if input.WaitSeconds > 0 {
		wait := time.Duration(toolutil.Clamp(input.WaitSeconds, 0, 1, 60)) * time.Second
		wctx, cancel := context.WithTimeout(ctx, wait)
		_, _, err := log.Next(wctx, from)
		cancel()
		if err != nil && ctx.Err() != nil {
			return ProgressOutput{}, ctx.Err()
		}
	}

	all, closed, runErr := log.Snapshot()
	if from < len(all) {
		out.Chunks = all[from:]
	}
	out.Next = from + len(out.Chunks)
	out.Done = closed
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out, nil
}
