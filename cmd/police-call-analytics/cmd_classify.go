package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"police_call_analytics/internal/inference"
)

var classifyFlags struct {
	threshold float64
	top       int
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify a transcript into an incident category",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.Float64Var(&classifyFlags.threshold, "threshold", -1, "minimum confidence for a non-Other label (default from config)")
	f.IntVar(&classifyFlags.top, "top", 3, "number of category scores to print")
}

func runClassify(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	clf := a.Classifier()
	threshold := clf.Threshold()
	if cmd.Flags().Changed("threshold") {
		threshold = classifyFlags.threshold
	}
	res, err := clf.ClassifyWithThreshold(cmd.Context(), strings.Join(args, " "), threshold)
	if err != nil && !errors.Is(err, inference.ErrUnavailable) {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Label:       %s\n", res.Label)
	fmt.Fprintf(out, "Confidence:  %.3f\n", res.Confidence)
	fmt.Fprintf(out, "Strategy:    %s (threshold %.2f)\n", clf.Strategy(), threshold)
	for _, name := range res.TopScores(classifyFlags.top) {
		fmt.Fprintf(out, "  %-12s %.3f\n", name, res.Scores[name])
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return nil
}
