package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/edgevec/internal/retrieval"
)

const defaultToolK = 5

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   Retriever
	Config  retrieval.Config // reported by the edgevec://store resource
	Version string
}

// NewMCPServer creates an MCP server exposing the store's searches and
// writes as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"edgevec",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("edgevec: similarity, full-text and hybrid search over a document store."),
		server.WithRecovery(),
	)

	filterOpt := mcp.WithArray("filters",
		mcp.Description(`Optional filters, each "column operator value", e.g. "topic = go" or "lang IN 'go','rust'"`))
	itemsOpt := mcp.WithArray("metadata_items",
		mcp.Description("Metadata keys to return with each result"))

	s.AddTool(
		mcp.NewTool("similarity_search",
			mcp.WithDescription("Find the documents whose embeddings are nearest to the query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
			filterOpt, itemsOpt,
		),
		mcpSimilaritySearch(deps),
	)

	s.AddTool(
		mcp.NewTool("full_text_search",
			mcp.WithDescription("Find documents containing any word of the query, ranked by the full-text index."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
			filterOpt, itemsOpt,
		),
		mcpFullTextSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("hybrid_search",
			mcp.WithDescription("Combine full-text and similarity results under separate quotas, without duplicates."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("kfts", mcp.Description("Full-text quota (default 5)")),
			mcp.WithNumber("kvector", mcp.Description("Similarity quota (default 5)")),
			filterOpt, itemsOpt,
		),
		mcpHybridSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("add_documents",
			mcp.WithDescription("Embed and store documents."),
			mcp.WithArray("texts", mcp.Description("Document texts"), mcp.Required()),
			mcp.WithString("metadata", mcp.Description("Optional JSON object attached to every document")),
		),
		mcpAddDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"edgevec://store",
			"Store configuration",
			mcp.WithResourceDescription("Database, table, mode and metadata layout of the store"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStore(deps),
	)

	return s
}

// toolOptions reads filters and metadata_items from a tool call.
func toolOptions(req mcp.CallToolRequest) (retrieval.SearchOptions, error) {
	var opts retrieval.SearchOptions
	for _, raw := range req.GetStringSlice("filters", nil) {
		f, err := retrieval.ParseFilter(raw)
		if err != nil {
			return opts, err
		}
		opts.Filters = append(opts.Filters, f)
	}
	opts.MetadataItems = req.GetStringSlice("metadata_items", nil)
	return opts, nil
}

func toolK(req mcp.CallToolRequest, key string) int {
	k := req.GetInt(key, defaultToolK)
	if k <= 0 {
		k = defaultToolK
	}
	return min(k, maxK)
}

type searchTool func(ctx context.Context, query string, req mcp.CallToolRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error)

func mcpSearch(kind string, run searchTool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}
		opts, err := toolOptions(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		results, err := run(ctx, query, req, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", kind, err)), nil
		}
		if retrieval.IsErrorResult(results) {
			return mcpError(fmt.Sprintf("%s failed: %s", kind, results[0].Content)), nil
		}
		if results == nil {
			results = []retrieval.SearchResult{}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSimilaritySearch(deps MCPDeps) server.ToolHandlerFunc {
	return mcpSearch("similarity search", func(ctx context.Context, query string, req mcp.CallToolRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
		return deps.Store.SimilaritySearch(ctx, query, retrieval.SimilarityOptions{KVector: toolK(req, "k"), SearchOptions: opts})
	})
}

func mcpFullTextSearch(deps MCPDeps) server.ToolHandlerFunc {
	return mcpSearch("full-text search", func(ctx context.Context, query string, req mcp.CallToolRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
		return deps.Store.FullTextSearch(ctx, query, retrieval.FullTextOptions{KFTS: toolK(req, "k"), SearchOptions: opts})
	})
}

func mcpHybridSearch(deps MCPDeps) server.ToolHandlerFunc {
	return mcpSearch("hybrid search", func(ctx context.Context, query string, req mcp.CallToolRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
		return deps.Store.HybridSearch(ctx, query, retrieval.HybridOptions{
			KFTS:          toolK(req, "kfts"),
			KVector:       toolK(req, "kvector"),
			SearchOptions: opts,
		})
	})
}

func mcpAddDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		texts := req.GetStringSlice("texts", nil)
		if len(texts) == 0 {
			return mcpError("texts is required"), nil
		}

		var meta map[string]any
		if raw := req.GetString("metadata", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return mcpError(fmt.Sprintf("invalid metadata JSON: %v", err)), nil
			}
		}

		docs := make([]retrieval.Document, 0, len(texts))
		for _, text := range texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			docs = append(docs, retrieval.Document{Content: text, Metadata: meta})
		}
		if len(docs) == 0 {
			return mcpError("all texts are empty"), nil
		}

		if err := deps.Store.AddDocuments(ctx, docs); err != nil {
			return mcpError(fmt.Sprintf("failed to store documents: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %d documents", len(docs))), nil
	}
}

func mcpResourceStore(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cfg := deps.Config
		info := map[string]any{
			"database":         cfg.Database,
			"table":            cfg.Table,
			"mode":             cfg.Mode,
			"metadata_columns": cfg.MetadataColumns,
			"expanded":         cfg.Expanded(),
			"vector_index":     cfg.UseVectorIndex,
		}
		b, err := json.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal store info: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
