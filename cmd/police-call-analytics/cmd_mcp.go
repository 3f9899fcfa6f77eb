package main

import (
	"github.com/spf13/cobra"

	"police_call_analytics/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over MCP on stdio",
	Long: `Starts a Model Context Protocol server over stdin/stdout exposing
analyze_transcript, classify_transcript, extract_entities and the category
tools. Logs go to stderr so they never mix with protocol traffic.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Version:    version,
		Analyzer:   a.Analyzer(),
		Classifier: a.Classifier(),
		Extractor:  a.Extractor(),
		Categories: a.Categories(),
	})
	return mcp.ServeStdio(srv)
}
