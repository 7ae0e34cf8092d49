package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/ingest"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/storage"
)

// NewMCPServer creates an MCP server exposing analysis runs and document
// search as tools. Tool failures are reported as error results.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"dealscope",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dealscope runs due-diligence analyses over a startup's uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_analysis",
			mcp.WithDescription("Start the six-stage due-diligence analysis for a startup whose documents are already uploaded."),
			mcp.WithString("startup_id", mcp.Description("Startup id returned by the upload"), mcp.Required()),
		),
		mcpStartAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("analysis_status",
			mcp.WithDescription("Report the status and progress of a startup's analysis."),
			mcp.WithString("startup_id", mcp.Description("Startup id"), mcp.Required()),
		),
		mcpAnalysisStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("analysis_results",
			mcp.WithDescription("Return the artifacts of a completed analysis, optionally a single section."),
			mcp.WithString("startup_id", mcp.Description("Startup id"), mcp.Required()),
			mcp.WithString("section", mcp.Description("One of extracted_data, benchmark_data, risk_analysis, market_research, growth_assessment, recommendation")),
		),
		mcpAnalysisResults(deps),
	)

	s.AddTool(
		mcp.NewTool("query_documents",
			mcp.WithDescription("Semantically search a startup's indexed documents."),
			mcp.WithString("startup_id", mcp.Description("Startup id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Restrict to primary-deck, transcript, correspondence or update")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpQueryDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Add a text document to a startup and index it."),
			mcp.WithString("startup_id", mcp.Description("Startup id"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("category", mcp.Description("primary-deck, transcript, correspondence or update (default update)")),
			mcp.WithString("filename", mcp.Description("Name to record for the document")),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dealscope://analyses",
			"Analyses",
			mcp.WithResourceDescription("Every analysis run with its status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAnalyses(deps),
	)

	return s
}

func mcpStartAnalysis(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("startup_id")
		if err != nil || id == "" {
			return mcpError("startup_id is required"), nil
		}

		run, err := deps.Analyses.Start(ctx, id)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			return mcpError("Analysis already in progress for this startup"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to start analysis: %v", err)), nil
		}
		return mcpJSON(toStatus(run))
	}
}

func mcpAnalysisStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("startup_id")
		if err != nil || id == "" {
			return mcpError("startup_id is required"), nil
		}

		run, err := deps.Analyses.Status(ctx, id)
		if errors.Is(err, pipeline.ErrNotFound) {
			return mcpError("No analysis found for this startup"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}
		return mcpJSON(toStatus(run))
	}
}

func mcpAnalysisResults(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("startup_id")
		if err != nil || id == "" {
			return mcpError("startup_id is required"), nil
		}

		run, err := deps.Analyses.Results(ctx, id)
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			return mcpError("No analysis found for this startup"), nil
		case errors.Is(err, pipeline.ErrNotCompleted):
			return mcpError(fmt.Sprintf("Analysis not completed. Current status: %s", run.Status)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to get results: %v", err)), nil
		}

		artifacts := run.Results
		if artifacts == nil {
			artifacts = &analysis.Artifacts{}
		}
		section := req.GetString("section", "")
		if section == "" {
			return mcpJSON(resultsResponse{Artifacts: artifacts, Provenance: run.Provenance})
		}

		// Select the section through the artifacts' own JSON keys.
		raw, err := json.Marshal(artifacts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		var sections map[string]json.RawMessage
		if err := json.Unmarshal(raw, &sections); err != nil {
			return mcpError(fmt.Sprintf("failed to split results: %v", err)), nil
		}
		part, ok := sections[section]
		if !ok {
			return mcpError(fmt.Sprintf("unknown or empty section %q", section)), nil
		}
		return mcpText(string(part)), nil
	}
}

func mcpQueryDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("startup_id")
		if err != nil || id == "" {
			return mcpError("startup_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultQueryLimit)
		if limit <= 0 {
			limit = defaultQueryLimit
		}
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}

		filter := retrieval.EntityFilter(id, req.GetString("category", ""))
		chunks, err := deps.Chunks.Search(ctx, query, filter, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(toChunkResults(chunks))
	}
}

func mcpAddDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("startup_id")
		if err != nil || id == "" {
			return mcpError("startup_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil || content == "" {
			return mcpError("content is required"), nil
		}
		category := req.GetString("category", storage.CategoryUpdate)
		filename := req.GetString("filename", "")
		if filename == "" {
			filename = category + ".txt"
		}

		res, err := deps.Documents.Add(ctx, id, ingest.File{Category: category, Filename: filename, Text: content})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add document: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceAnalyses(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Analyses.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list analyses: %w", err)
		}
		statuses := make([]statusResponse, len(runs))
		for i, run := range runs {
			statuses[i] = toStatus(run)
		}

		b, err := json.Marshal(statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal analyses: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
