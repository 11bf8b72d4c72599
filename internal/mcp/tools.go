// Package mcp exposes the vault snapshot as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Backend answers the tool calls.
type Backend interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	Related(ctx context.Context, id string, limit int, boost bool) ([]*models.SearchResult, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	Status() *reader.Status
}

// NewServer returns an MCP server with the vault tools registered.
func NewServer(b Backend, version string, defaultLimit int) *server.MCPServer {
	s := server.NewMCPServer("kioku", version, server.WithToolCapabilities(true))
	RegisterTools(s, b, defaultLimit)
	return s
}

// RegisterTools adds the read-only vault tools to s.
func RegisterTools(s *server.MCPServer, b Backend, defaultLimit int) {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	s.AddTool(searchTool(defaultLimit), searchHandler(b, defaultLimit))
	s.AddTool(relatedTool(defaultLimit), relatedHandler(b, defaultLimit))
	s.AddTool(noteTool(), noteHandler(b))
	s.AddTool(statusTool(), statusHandler(b))
}

// --- vault_search ---

func searchTool(defaultLimit int) mcp.Tool {
	return mcp.NewTool("vault_search",
		mcp.WithDescription("Search the notes vault. Hybrid mode fuses keyword and semantic ranking."),
		mcp.WithString("query",
			mcp.Description("Search query"),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of notes to return (default %d)", defaultLimit)),
		),
		mcp.WithString("mode",
			mcp.Description("hybrid (default), semantic or keyword"),
			mcp.Enum(models.ModeHybrid, models.ModeSemantic, models.ModeKeyword),
		),
	)
}

func searchHandler(b Backend, defaultLimit int) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := &models.SearchQuery{
			Query: req.GetString("query", ""),
			Limit: req.GetInt("limit", defaultLimit),
			Mode:  req.GetString("mode", ""),
		}
		if query.Query == "" {
			return toolError(errors.New("query is required"))
		}
		resp, err := b.Search(ctx, query)
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		if resp.Suggestion != "" {
			fmt.Fprintf(&sb, "Did you mean: %s\n", resp.Suggestion)
		}
		if len(resp.Results) == 0 {
			sb.WriteString("No results found.")
			return mcp.NewToolResultText(sb.String()), nil
		}
		writeResults(&sb, resp.Results)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- vault_related ---

func relatedTool(defaultLimit int) mcp.Tool {
	return mcp.NewTool("vault_related",
		mcp.WithDescription("List notes similar to a given note, optionally boosted by shared type and area."),
		mcp.WithString("path",
			mcp.Description("Vault-relative path of the note (e.g. projects/kioku.md)"),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of notes to return (default %d)", defaultLimit)),
		),
		mcp.WithBoolean("boost",
			mcp.Description("Blend in type and area metadata similarity"),
		),
	)
}

func relatedHandler(b Backend, defaultLimit int) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("path", "")
		if id == "" {
			return toolError(errors.New("path is required"))
		}
		results, err := b.Related(ctx, id, req.GetInt("limit", defaultLimit), req.GetBool("boost", false))
		if err != nil {
			return toolError(err)
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No related notes."), nil
		}
		var sb strings.Builder
		writeResults(&sb, results)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- vault_note ---

func noteTool() mcp.Tool {
	return mcp.NewTool("vault_note",
		mcp.WithDescription("Show the indexed gist, tags and frontmatter fields of a note."),
		mcp.WithString("path",
			mcp.Description("Vault-relative path of the note"),
			mcp.Required(),
		),
	)
}

func noteHandler(b Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("path", "")
		if id == "" {
			return toolError(errors.New("path is required"))
		}
		rec, err := b.GetRecord(ctx, id)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(rec)
	}
}

// --- vault_status ---

func statusTool() mcp.Tool {
	return mcp.NewTool("vault_status",
		mcp.WithDescription("Report note count, embedding mode and snapshot age."),
	)
}

func statusHandler(b Backend) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(b.Status())
	}
}

// --- helpers ---

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func writeResults(sb *strings.Builder, results []*models.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(sb, "%d. %s  (%.4f)\n", r.Rank, r.ID, r.Score)
		if r.Gist != "" {
			fmt.Fprintf(sb, "   %s\n", utils.Truncate(r.Gist, 200))
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(sb, "   tags: %s\n", strings.Join(r.Tags, ", "))
		}
	}
}
