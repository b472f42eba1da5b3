package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/leads"
	"github.com/kalambet/leadnexus/internal/retrieval"
	"github.com/kalambet/leadnexus/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Leads    LeadService
	Searcher Searcher
	Ingester Ingester
}

// NewMCPServer creates an MCP server with the lead tools registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"leadnexus",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("leadnexus finds and organises influencer, journalist and publisher leads."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_leads",
			mcp.WithDescription("Semantic search over stored leads, with related memory context."),
			mcp.WithString("query", mcp.Description("Natural language search query"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Optional filter: influencer, journalist or publisher")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("pageSize", mcp.Description("Results per page (default 10, max 100)")),
		),
		mcpSearchLeads(deps),
	)

	s.AddTool(
		mcp.NewTool("get_lead",
			mcp.WithDescription("Fetch one lead with its memories and relationships."),
			mcp.WithString("id", mcp.Description("Lead ID"), mcp.Required()),
		),
		mcpGetLead(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_urls",
			mcp.WithDescription("Scrape up to 10 public pages, extract leads and store them."),
			mcp.WithArray("urls", mcp.Description("Absolute http(s) URLs"), mcp.Required(), mcp.WithStringItems()),
		),
		mcpIngestURLs(deps),
	)

	s.AddTool(
		mcp.NewTool("add_relationship",
			mcp.WithDescription("Record a typed relationship between two leads."),
			mcp.WithString("leadId1", mcp.Description("Source lead ID"), mcp.Required()),
			mcp.WithString("leadId2", mcp.Description("Related lead ID"), mcp.Required()),
			mcp.WithString("relationshipType", mcp.Description("e.g. interviewed_by, collaborated_with"), mcp.Required()),
		),
		mcpAddRelationship(deps),
	)

	s.AddTool(
		mcp.NewTool("query_knowledge_graph",
			mcp.WithDescription("Build a graph of leads and relationships from memories matching a query."),
			mcp.WithString("query", mcp.Description("Natural language query"), mcp.Required()),
			mcp.WithNumber("maxDepth", mcp.Description("Traversal depth, 1 to 5")),
			mcp.WithString("category", mcp.Description("Optional lead category filter")),
		),
		mcpQueryGraph(deps),
	)

	return s
}

func mcpSearchLeads(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		cat, err := storage.ParseCategory(req.GetString("category", ""))
		if err != nil {
			return mcpError(apperr.PublicMessage(err)), nil
		}
		res, err := deps.Searcher.Search(ctx, retrieval.Query{
			Text:     query,
			Category: cat,
			Page:     req.GetInt("page", 1),
			PageSize: req.GetInt("pageSize", retrieval.DefaultPageSize),
		})
		if err != nil {
			return mcpFailure("search failed", err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpGetLead(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		d, err := deps.Leads.GetLead(ctx, id)
		if err != nil {
			return mcpFailure("get lead failed", err), nil
		}
		return mcpJSON(d), nil
	}
}

func mcpIngestURLs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls := req.GetStringSlice("urls", nil)
		if len(urls) == 0 {
			return mcpError("urls is required"), nil
		}
		res, err := deps.Ingester.Ingest(ctx, urls)
		if err != nil {
			return mcpFailure("ingest failed", err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpAddRelationship(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id1, err := req.RequireString("leadId1")
		if err != nil {
			return mcpError("leadId1 is required"), nil
		}
		id2, err := req.RequireString("leadId2")
		if err != nil {
			return mcpError("leadId2 is required"), nil
		}
		typ, err := req.RequireString("relationshipType")
		if err != nil {
			return mcpError("relationshipType is required"), nil
		}
		res, err := deps.Leads.AddRelationship(ctx, id1, id2, typ)
		if err != nil {
			return mcpFailure("add relationship failed", err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpQueryGraph(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		cat, err := storage.ParseCategory(req.GetString("category", ""))
		if err != nil {
			return mcpError(apperr.PublicMessage(err)), nil
		}
		g, err := deps.Leads.QueryKnowledgeGraph(ctx, leads.GraphQuery{
			Query:    query,
			MaxDepth: req.GetInt("maxDepth", 0),
			Category: cat,
		})
		if err != nil {
			return mcpFailure("knowledge graph query failed", err), nil
		}
		return mcpJSON(g), nil
	}
}

// mcpFailure reports a tool error using only the error's public message.
func mcpFailure(action string, err error) *mcp.CallToolResult {
	return mcpError(fmt.Sprintf("%s: %s", action, apperr.PublicMessage(err)))
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
