package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"toolscout/internal/advisor"
	"toolscout/internal/catalog"
)

// MCPCatalog is the catalog read surface the MCP layer serves.
type MCPCatalog interface {
	Items() []catalog.Item
	Categories() []string
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Advisor Asker
	Catalog MCPCatalog
}

// NewMCPServer creates an MCP server exposing the advisor and the catalog.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"toolscout",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("toolscout recommends industrial tools from a fixed catalog. Answers are grounded in catalog data only."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_tool",
			mcp.WithDescription("Recommend a catalog tool for a free-text requirement. Returns a recommendation, a clarifying question, or an honest no-match."),
			mcp.WithString("question", mcp.Description("Free-text requirement, e.g. '18V cordless nutrunner'"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session id to continue a conversation; omit to start a new one")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of candidates (default 1)")),
		),
		mcpRecommendTool(deps),
	)

	s.AddTool(
		mcp.NewTool("list_categories",
			mcp.WithDescription("List the catalog's tool categories."),
		),
		mcpListCategories(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://items",
			"Tool Catalog",
			mcp.WithResourceDescription("All catalog items with their attributes as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpRecommendTool(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		topK := req.GetInt("top_k", 0)
		if topK > 50 {
			topK = 50
		}

		answer, err := deps.Advisor.Ask(ctx, advisor.Request{
			SessionID: req.GetString("session_id", ""),
			Question:  question,
			TopK:      topK,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Catalog.Categories())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal categories: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type itemSummary struct {
			ID         string            `json:"id"`
			Name       string            `json:"name"`
			Category   string            `json:"category"`
			Attributes map[string]string `json:"attributes,omitempty"`
		}

		items := deps.Catalog.Items()
		summaries := make([]itemSummary, len(items))
		for i, it := range items {
			summaries[i] = itemSummary{
				ID:         it.ID,
				Name:       it.Name,
				Category:   it.Category,
				Attributes: it.Attributes,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
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
