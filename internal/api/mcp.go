package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pengeplan/internal/orchestrator"
	"github.com/kalambet/pengeplan/internal/planning"
	"github.com/kalambet/pengeplan/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Runner  Runner
	Metrics MetricsSource
}

// NewMCPServer creates an MCP server exposing the planning pipeline to
// assistant clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pengeplan",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pengeplan — local financial planning pipeline producing budget, bill, debt, and goal suggestions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_plan",
			mcp.WithDescription("Run the planning pipeline for a user and return the resulting suggestions."),
			mcp.WithString("user_id", mcp.Description("User to plan for"), mcp.Required()),
			mcp.WithString("entry_point", mcp.Description("One of user_assist, guardian_assist, admin_trigger (default user_assist)")),
		),
		mcpRunPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("list_suggestions",
			mcp.WithDescription("List the most recent suggestions for a user."),
			mcp.WithString("user_id", mcp.Description("User to list suggestions for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListSuggestions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_metrics",
			mcp.WithDescription("Aggregate run metrics over a recent window."),
			mcp.WithNumber("window_days", mcp.Description("Window size in days (default 7)")),
		),
		mcpGetMetrics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"runs://recent",
			"Recent Runs",
			mcp.WithResourceDescription("Runs started in the last 7 days"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpRunPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		entry, err := planning.ParseEntryPoint(req.GetString("entry_point", string(planning.EntryUserAssist)))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		result, err := deps.Runner.Run(ctx, userID, entry, orchestrator.Options{})
		if err != nil {
			return mcpError(fmt.Sprintf("run %s failed: %v", result.RunID, err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"run_id":       result.RunID,
			"status":       result.Status,
			"suggestions":  result.Suggestions,
			"blocked":      result.Blocked,
			"confidence":   result.Confidence,
			"impact_score": result.ImpactScore,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		records, err := deps.Store.ListSuggestionsByUser(userID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list suggestions: %v", err)), nil
		}

		b, err := json.Marshal(toSuggestionViews(records))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		windowDays := req.GetInt("window_days", 0)

		m, err := deps.Metrics.Aggregate(ctx, windowDays)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to aggregate metrics: %v", err)), nil
		}

		b, err := json.Marshal(m)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal metrics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.ListRunsSince(recentRunsCutoff())
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		views := make([]runView, 0, len(runs))
		for _, r := range runs {
			views = append(views, toRunView(r))
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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

func recentRunsCutoff() time.Time {
	return time.Now().AddDate(0, 0, -7)
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
