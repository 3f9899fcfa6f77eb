// Package mcp exposes transcript analysis, classification, extraction and the
// category taxonomy as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/extract"
	"police_call_analytics/internal/inference"
)

// Analyzer runs the full transcript pipeline.
type Analyzer interface {
	AnalyzeText(ctx context.Context, source, text, language string) (analysis.Record, error)
}

// Classifier labels transcripts.
type Classifier interface {
	Threshold() float64
	ClassifyWithThreshold(ctx context.Context, text string, threshold float64) (classify.Result, error)
}

// Extractor pulls entities out of transcripts.
type Extractor interface {
	Extract(ctx context.Context, text string) extract.Result
}

// Taxonomy is the mutable category set.
type Taxonomy interface {
	Snapshot() categories.Snapshot
	Update(name, description string) error
	Remove(name string) (bool, error)
}

// ServerConfig holds the services behind the tools. Analyzer may be nil, in
// which case analyze_transcript is not registered.
type ServerConfig struct {
	Version    string
	Analyzer   Analyzer
	Classifier Classifier
	Extractor  Extractor
	Categories Taxonomy
}

// NewServer creates an MCP server with every tool registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	s := server.NewMCPServer("police-call-analytics", ver, server.WithToolCapabilities(false))

	if cfg.Analyzer != nil {
		registerAnalyzeTool(s, cfg.Analyzer)
	}
	registerClassifyTool(s, cfg.Classifier)
	registerExtractTool(s, cfg.Extractor)
	registerListCategoriesTool(s, cfg.Categories)
	registerUpdateCategoryTool(s, cfg.Categories)
	registerRemoveCategoryTool(s, cfg.Categories)
	return s
}

// ServeStdio blocks serving s on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func registerAnalyzeTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool("analyze_transcript",
		mcp.WithDescription("Analyze a police call transcript: translate if needed, extract entities, classify the incident and store the report."),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text", mcp.Required(), mcp.Description("Transcript text")),
		mcp.WithString("language", mcp.Description("ISO language code of the transcript; guessed when empty")),
		mcp.WithString("source", mcp.Description("Name recorded as the analysis filename")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		rec, err := analyzer.AnalyzeText(ctx, optionalString(req, "source"), text, optionalString(req, "language"))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analysis not stored: %v", err)), nil
		}
		return jsonResult(rec)
	})
}

func registerClassifyTool(s *server.MCPServer, classifier Classifier) {
	tool := mcp.NewTool("classify_transcript",
		mcp.WithDescription("Classify a transcript into one incident category. Returns the label, its confidence and the score of every category."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("text", mcp.Required(), mcp.Description("Transcript text")),
		mcp.WithNumber("threshold", mcp.Description("Minimum confidence in [0,1] for a non-Other label")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		threshold := classifier.Threshold()
		if v, err := req.RequireFloat("threshold"); err == nil {
			threshold = v
		}
		res, err := classifier.ClassifyWithThreshold(ctx, text, threshold)
		switch {
		case errors.Is(err, classify.ErrInvalidThreshold):
			return mcp.NewToolResultError(err.Error()), nil
		case err != nil && !errors.Is(err, inference.ErrUnavailable):
			return nil, err
		}
		return jsonResult(res)
	})
}

func registerExtractTool(s *server.MCPServer, extractor Extractor) {
	tool := mcp.NewTool("extract_entities",
		mcp.WithDescription("Extract locations, times, suspects, weapons and organizations from a transcript."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("text", mcp.Required(), mcp.Description("Transcript text")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		return jsonResult(extractor.Extract(ctx, text))
	})
}

func registerListCategoriesTool(s *server.MCPServer, taxonomy Taxonomy) {
	tool := mcp.NewTool("list_categories",
		mcp.WithDescription("List the incident categories and their descriptions."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(taxonomy.Snapshot().Descriptions)
	})
}

func registerUpdateCategoryTool(s *server.MCPServer, taxonomy Taxonomy) {
	tool := mcp.NewTool("update_category",
		mcp.WithDescription("Add an incident category or replace its description."),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("name", mcp.Required(), mcp.Description("Category name")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What incidents the category covers")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		desc, err := req.RequireString("description")
		if err != nil {
			return mcp.NewToolResultError("description is required"), nil
		}
		if err := taxonomy.Update(name, desc); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("category %q saved", strings.TrimSpace(name))), nil
	})
}

func registerRemoveCategoryTool(s *server.MCPServer, taxonomy Taxonomy) {
	tool := mcp.NewTool("remove_category",
		mcp.WithDescription("Remove an incident category. Other cannot be removed."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("name", mcp.Required(), mcp.Description("Category name")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		removed, err := taxonomy.Remove(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !removed {
			return mcp.NewToolResultError(fmt.Sprintf("category %q not removed", strings.TrimSpace(name))), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("category %q removed", strings.TrimSpace(name))), nil
	})
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
