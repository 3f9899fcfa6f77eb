package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"police_call_analytics/internal/analysis"
)

var analyzeFlags struct {
	text     string
	language string
	outDir   string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [recording]",
	Short: "Analyze one recording or transcript and print the report",
	Long: `Runs transcription (for recordings), translation, entity extraction and
classification, stores the analysis and prints the JSON report.

Pass a recording path, or --text for a transcript.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.text, "text", "", "transcript text to analyze instead of a recording")
	f.StringVar(&analyzeFlags.language, "language", "", "transcript language code (guessed when empty)")
	f.StringVarP(&analyzeFlags.outDir, "out", "o", "", "also write the report into this directory")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (analyzeFlags.text == "") {
		return errors.New("pass either a recording path or --text")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var rec analysis.Record
	if len(args) == 1 {
		audio, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
		rec, err = a.Analyzer().AnalyzeAudio(cmd.Context(), filepath.Base(args[0]), audio)
		if err != nil {
			return err
		}
	} else {
		rec, err = a.Analyzer().AnalyzeText(cmd.Context(), "", analyzeFlags.text, analyzeFlags.language)
		if err != nil {
			return err
		}
	}

	report, err := analysis.MarshalReport(rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(report))
	for _, w := range rec.Metadata.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if analyzeFlags.outDir == "" {
		return nil
	}
	if err := os.MkdirAll(analyzeFlags.outDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(analyzeFlags.outDir, analysis.ReportFilename(rec.Metadata.ProcessedAt))
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "report: %s\n", path)
	return nil
}
