// Package mcp exposes the knowledge base to agent clients over the Model
// Context Protocol, mirroring the retrieval the chat API performs.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1475505/Miliastra-toolbox/internal/retriever"
)

// IndexStatus is the slice of the store the kb_status tool needs.
type IndexStatus interface {
	Health(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
}

// Config holds server dependencies.
type Config struct {
	Retriever  retriever.Retriever
	Index      IndexStatus
	Collection string
}

// Server wraps the MCP server with its tools registered.
type Server struct {
	server *mcp.Server
}

// NewServer creates a configured MCP server.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "miliastra-knowledge-server",
		Version: "v0.1.0",
	}
	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the Miliastra sandbox editor knowledge base semantically. Returns the most relevant documentation chunks with their source citations.",
	}, makeSearchHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kb_status",
		Description: "Report knowledge base health and the number of indexed chunks.",
	}, makeStatusHandler(cfg.Index, cfg.Collection))

	return &Server{server: server}
}

func makeSearchHandler(ret retriever.Retriever) func(
	context.Context, *mcp.CallToolRequest, SearchKnowledgeInput,
) (*mcp.CallToolResult, SearchKnowledgeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchKnowledgeInput) (
		*mcp.CallToolResult, SearchKnowledgeOutput, error,
	) {
		chunks, err := ret.Retrieve(ctx, input.Query)
		if err != nil {
			return nil, SearchKnowledgeOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]KnowledgeResult, 0, len(chunks))
		for _, sc := range chunks {
			results = append(results, KnowledgeResult{
				Title:   sc.Chunk.Title,
				Section: sc.Chunk.SectionTitle,
				URL:     sc.Chunk.URL,
				Score:   sc.Score,
				Text:    sc.Chunk.Text,
			})
		}
		if len(results) == 0 {
			return nil, SearchKnowledgeOutput{
				Results: []KnowledgeResult{},
				Message: "No matching content found. Try broader search terms.",
			}, nil
		}
		return nil, SearchKnowledgeOutput{Results: results}, nil
	}
}

func makeStatusHandler(index IndexStatus, collection string) func(
	context.Context, *mcp.CallToolRequest, KBStatusInput,
) (*mcp.CallToolResult, KBStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input KBStatusInput) (
		*mcp.CallToolResult, KBStatusOutput, error,
	) {
		out := KBStatusOutput{Collection: collection}
		out.Healthy = index.Health(ctx) == nil
		count, err := index.Count(ctx)
		if err != nil {
			// A failed count means the store is unreachable, not empty.
			out.Healthy = false
			return nil, out, nil
		}
		out.Chunks = count
		return nil, out, nil
	}
}

// Run serves over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler mounts the server on an HTTP path using the Streamable
// HTTP transport.
func (s *Server) NewHTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}
