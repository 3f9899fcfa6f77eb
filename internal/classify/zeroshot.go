package classify

import (
	"context"

	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/inference"
)

// ZeroShotStrategy scores text with an NLI zero-shot model using the category
// names as candidate labels in single-label mode.
type ZeroShotStrategy struct {
	model inference.ZeroShotClassifier
}

// NewZeroShotStrategy wraps model.
func NewZeroShotStrategy(model inference.ZeroShotClassifier) *ZeroShotStrategy {
	return &ZeroShotStrategy{model: model}
}

func (s *ZeroShotStrategy) Name() string { return "zero-shot" }

// Prepare only captures the labels; the model needs no precomputation.
func (s *ZeroShotStrategy) Prepare(_ context.Context, snap categories.Snapshot) (Prepared, error) {
	return &zeroShotPrepared{model: s.model, labels: append([]string(nil), snap.Names...)}, nil
}

type zeroShotPrepared struct {
	model  inference.ZeroShotClassifier
	labels []string
}

func (p *zeroShotPrepared) Score(ctx context.Context, text string) (map[string]float64, error) {
	scores := make(map[string]float64, len(p.labels))
	if len(p.labels) == 0 {
		return scores, nil
	}
	res, err := p.model.ClassifyZeroShot(ctx, text, p.labels, false)
	if err != nil {
		return nil, err
	}
	for _, label := range p.labels {
		if s, ok := res.Score(label); ok {
			scores[label] = s
		}
	}
	return scores, nil
}
