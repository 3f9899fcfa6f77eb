package classify

import (
	"context"
	"fmt"
	"math"

	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/inference"
)

// EmbeddingStrategy scores text by cosine similarity between its embedding
// and the embedding of each category description.
type EmbeddingStrategy struct {
	embedder inference.Embedder
}

// NewEmbeddingStrategy wraps embedder.
func NewEmbeddingStrategy(embedder inference.Embedder) *EmbeddingStrategy {
	return &EmbeddingStrategy{embedder: embedder}
}

func (s *EmbeddingStrategy) Name() string { return "embedding" }

// Prepare embeds every category description in one batch.
func (s *EmbeddingStrategy) Prepare(ctx context.Context, snap categories.Snapshot) (Prepared, error) {
	p := &embeddingPrepared{embedder: s.embedder, names: snap.Names}
	if len(snap.Names) == 0 {
		return p, nil
	}
	texts := make([]string, len(snap.Names))
	for i, name := range snap.Names {
		texts[i] = describe(name, snap.Descriptions[name])
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, inference.Unavailable("embed", fmt.Errorf("got %d vectors for %d categories", len(vecs), len(texts)))
	}
	p.vectors = vecs
	return p, nil
}

// describe is the text embedded for a category. Names carry signal of their
// own, so they lead the description.
func describe(name, description string) string {
	if description == "" {
		return name
	}
	return name + ": " + description
}

type embeddingPrepared struct {
	embedder inference.Embedder
	names    []string
	vectors  [][]float32
}

func (p *embeddingPrepared) Score(ctx context.Context, text string) (map[string]float64, error) {
	scores := make(map[string]float64, len(p.names))
	if len(p.names) == 0 {
		return scores, nil
	}
	vecs, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, inference.Unavailable("embed", fmt.Errorf("got %d vectors for 1 text", len(vecs)))
	}
	for i, name := range p.names {
		scores[name] = Cosine(vecs[0], p.vectors[i])
	}
	return scores, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
