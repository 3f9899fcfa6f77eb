// Package extract pulls structured entities (locations, times, suspects,
// weapons, organizations) out of call transcripts by combining pattern rules
// with model-backed recognition.
package extract

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"police_call_analytics/internal/formatting"
	"police_call_analytics/internal/logging"
)

// Extractor is the unified entity extraction engine.
type Extractor struct {
	rules  *Rules
	models *ModelExtractor
	logger *slog.Logger
}

// New builds an extractor. A nil rules registry means DefaultRules; a nil
// model extractor means pattern rules only.
func New(rules *Rules, models *ModelExtractor, logger *slog.Logger) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules, models: models, logger: logging.OrDiscard(logger).With("component", "extractor")}
}

// Rules exposes the pattern registry for runtime changes.
func (e *Extractor) Rules() *Rules { return e.rules }

// Models exposes the model-backed extractor, which may be nil.
func (e *Extractor) Models() *ModelExtractor { return e.models }

// Extract returns the merged entities found in text. Empty or whitespace-only
// text yields an empty result without touching any collaborator.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	text = formatting.NormalizeTranscript(text)
	if text == "" {
		return EmptyResult()
	}

	var patterns, models Candidates
	var g errgroup.Group
	g.Go(func() error {
		patterns = e.rules.Apply(text)
		return nil
	})
	if e.models != nil {
		g.Go(func() error {
			models = e.models.Extract(ctx, text)
			return nil
		})
	}
	_ = g.Wait()

	res := Aggregate(patterns, models)
	e.logger.Debug("entities extracted",
		"locations", len(res.Locations), "times", len(res.Times),
		"suspects", len(res.Suspects), "weapons", len(res.Weapons),
		"organizations", len(res.Organizations))
	return res
}
