package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Queue CycleQueue
}

// NewMCPServer creates an MCP server exposing FC risk to assistants.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"fcsentinel",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fcsentinel scores fulfillment centers for disruption risk and plans shipment re-routing."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_fc_risk",
			mcp.WithDescription("List every fulfillment center with its latest risk score, status and contingency summary, highest risk first."),
			mcp.WithNumber("min_score", mcp.Description("Only return FCs scoring at least this much (0-100)")),
		),
		mcpListFCRisk(deps),
	)

	s.AddTool(
		mcp.NewTool("get_fc_plan",
			mcp.WithDescription("Return the latest contingency plan and risk reasoning for one fulfillment center."),
			mcp.WithString("fc_id", mcp.Description("Fulfillment center identifier"), mcp.Required()),
		),
		mcpGetFCPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_cycle",
			mcp.WithDescription("Queue a new evaluation cycle over all fulfillment centers."),
		),
		mcpTriggerCycle(deps),
	)

	s.AddTool(
		mcp.NewTool("add_evidence",
			mcp.WithDescription("Record a disruption signal for a city so the next cycle takes it into account."),
			mcp.WithString("category", mcp.Description("weather, social, news, labor or logistics"), mcp.Required(),
				mcp.Enum(storage.CategoryWeather, storage.CategorySocial, storage.CategoryNews, storage.CategoryLabor, storage.CategoryLogistics)),
			mcp.WithString("city", mcp.Description("City the signal is about"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Headline or short description"), mcp.Required()),
			mcp.WithString("detail", mcp.Description("Longer text")),
			mcp.WithString("signal", mcp.Description("Category qualifier: temperature, sentiment, impact, severity or disruption level")),
			mcp.WithString("source", mcp.Description("Where the signal came from (default mcp)")),
		),
		mcpAddEvidence(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fc://summaries",
			"FC Risk Summaries",
			mcp.WithResourceDescription("Latest risk row for every fulfillment center as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummaries(deps),
	)

	return s
}

func mcpListFCRisk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		minScore := req.GetFloat("min_score", 0)

		rows, err := latestRows(ctx, deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list fulfillment centers: %v", err)), nil
		}
		filtered := make([]pipeline.Row, 0, len(rows))
		for _, row := range rows {
			if row.RiskScore >= minScore {
				filtered = append(filtered, row)
			}
		}

		b, err := json.Marshal(filtered)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rows: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetFCPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("fc_id")
		if err != nil {
			return mcpError("fc_id is required"), nil
		}

		if _, err := deps.Store.GetFC(ctx, id); errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("fulfillment center %q not found", id)), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("failed to get fulfillment center: %v", err)), nil
		}

		p, err := deps.Store.GetPlan(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText(fmt.Sprintf("%s has not been evaluated yet", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get plan: %v", err)), nil
		}
		v, err := deps.Store.GetVerdict(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("failed to get verdict: %v", err)), nil
		}

		out := map[string]any{"plan": newPlanView(p)}
		if err == nil {
			out["verdict"] = newVerdictView(v)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerCycle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := deps.Queue.EnqueueCycle(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue cycle: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued evaluation cycle job %s", id)), nil
	}
}

func mcpAddEvidence(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		city, err := req.RequireString("city")
		if err != nil {
			return mcpError("city is required"), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}

		rec, err := deps.Store.UpsertEvidence(ctx, storage.EvidenceRecord{
			Category: category,
			Location: city,
			Title:    title,
			Detail:   req.GetString("detail", ""),
			Signal:   req.GetString("signal", ""),
			Source:   req.GetString("source", "mcp"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save evidence: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %s evidence %s for %s", rec.Category, rec.ID, rec.Location)), nil
	}
}

func mcpResourceSummaries(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := latestRows(ctx, deps.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to list fulfillment centers: %w", err)
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rows: %w", err)
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
