// Package shortserver exposes the coordinator over MCP tools and a REST API.
package shortserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_shorts/internal/pipeline"
)

// Coordinator is the part of pipeline.Coordinator the surfaces use.
type Coordinator interface {
	Submit(ctx context.Context, urls []string) *pipeline.Batch
	Query(ctx context.Context, rawURL string) pipeline.QueryResult
	Progress(rawURL string) (*pipeline.ChunkLog, bool)
	InFlight() int
}

// RegisterTools registers the analysis tools on the given MCP server:
// shorts_submit, shorts_verdict, shorts_progress.
func RegisterTools(server *mcp.Server, coord Coordinator) {
	registerSubmit(server, coord)
	registerVerdict(server, coord)
	registerProgress(server, coord)
}
