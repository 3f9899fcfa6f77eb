// Package classify assigns a call transcript to one category of the taxonomy.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/formatting"
	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/logging"
)

const (
	// DefaultThreshold is the minimum best score for a non-Other label.
	DefaultThreshold = 0.45
	// DefaultCacheSize bounds the number of memoized results.
	DefaultCacheSize = 1000
)

// ErrInvalidThreshold is returned for thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("threshold must be within [0,1]")

// Result is the classification payload of an analysis.
type Result struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
}

// State is the readiness of the prepared category representation.
type State int

const (
	Stale State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "stale"
}

// Strategy turns a taxonomy snapshot into something that can score text.
type Strategy interface {
	Name() string
	Prepare(ctx context.Context, snap categories.Snapshot) (Prepared, error)
}

// Prepared scores text against the categories it was prepared for. Missing
// categories count as zero.
type Prepared interface {
	Score(ctx context.Context, text string) (map[string]float64, error)
}

// Recorder receives cache and failure counters.
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCollaboratorFailure(op string)
}

type cacheKey struct {
	text      string
	threshold float64
	version   uint64
}

// Classifier memoizes strategy results and follows taxonomy changes.
//
// mu guards snap, prepared and state. A call captures one (snap, prepared)
// pair under mu, so a result never mixes labels from one taxonomy version
// with scores computed for another.
type Classifier struct {
	strategy  Strategy
	threshold float64
	cache     *lru.Cache[cacheKey, Result]
	timeout   time.Duration
	metrics   Recorder
	logger    *slog.Logger

	mu       sync.Mutex
	snap     categories.Snapshot
	prepared Prepared
	state    State
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithThreshold sets the default threshold used by Classify.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithCacheSize bounds the result cache.
func WithCacheSize(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.cache, _ = lru.New[cacheKey, Result](n)
		}
	}
}

// WithTimeout bounds every collaborator call made while classifying.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithRecorder reports cache and failure counts.
func WithRecorder(r Recorder) Option {
	return func(c *Classifier) { c.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New builds a stale classifier for snap; the first call (or Warm) prepares it.
func New(strategy Strategy, snap categories.Snapshot, opts ...Option) (*Classifier, error) {
	if strategy == nil {
		return nil, errors.New("classify: strategy is required")
	}
	cache, err := lru.New[cacheKey, Result](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("classify: cache: %w", err)
	}
	c := &Classifier{
		strategy:  strategy,
		threshold: DefaultThreshold,
		cache:     cache,
		snap:      snap,
		state:     Stale,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !validThreshold(c.threshold) {
		return nil, fmt.Errorf("classify: default %w", ErrInvalidThreshold)
	}
	c.logger = logging.OrDiscard(c.logger).With("component", "classifier", "strategy", strategy.Name())
	return c, nil
}

// Strategy names the active strategy.
func (c *Classifier) Strategy() string { return c.strategy.Name() }

// Threshold returns the default threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// State reports whether the prepared representation matches the taxonomy.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Categories returns the snapshot the classifier currently labels against.
func (c *Classifier) Categories() categories.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// SetCategories adopts a new taxonomy. It is the category store subscriber:
// the classifier turns stale and every cached result is dropped.
func (c *Classifier) SetCategories(snap categories.Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.prepared = nil
	c.state = Stale
	c.mu.Unlock()
	c.cache.Purge()
	c.logger.Info("taxonomy changed, classifier stale", "version", snap.Version, "categories", snap.Len())
}

// Warm prepares the current taxonomy eagerly.
func (c *Classifier) Warm(ctx context.Context) error {
	_, _, err := c.current(ctx)
	return err
}

// Invalidate drops the cached result for text at threshold.
func (c *Classifier) Invalidate(text string, threshold float64) {
	key := formatting.NormalizeTranscript(text)
	for _, k := range c.cache.Keys() {
		if k.text == key && k.threshold == threshold {
			c.cache.Remove(k)
		}
	}
}

// InvalidateAll drops every cached result.
func (c *Classifier) InvalidateAll() {
	c.cache.Purge()
}

// CacheLen reports the number of cached results.
func (c *Classifier) CacheLen() int { return c.cache.Len() }

// Classify labels text using the default threshold.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	return c.ClassifyWithThreshold(ctx, text, c.threshold)
}

// ClassifyWithThreshold labels text. When the best score is below threshold
// the label is Other and the confidence is still the best score. On a
// collaborator failure the fallback result is returned with an error wrapping
// inference.ErrUnavailable.
func (c *Classifier) ClassifyWithThreshold(ctx context.Context, text string, threshold float64) (Result, error) {
	if !validThreshold(threshold) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	text = formatting.NormalizeTranscript(text)
	if text == "" {
		return fallback(c.Categories()), nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	snap, prepared, err := c.current(ctx)
	if err != nil {
		return fallback(snap), c.degrade("prepare", err)
	}

	key := cacheKey{text: text, threshold: threshold, version: snap.Version}
	if res, ok := c.cache.Get(key); ok {
		c.recordCache(true)
		return copyResult(res), nil
	}
	c.recordCache(false)

	raw, err := prepared.Score(ctx, text)
	if err != nil {
		return fallback(snap), c.degrade("score", err)
	}
	res := decide(snap.Names, raw, threshold)

	// Skip the write if the taxonomy moved on while scoring.
	if c.Categories().Version == snap.Version {
		c.cache.Add(key, res)
	}
	return copyResult(res), nil
}

// current returns the (snapshot, prepared) pair, preparing under the lock when
// stale.
func (c *Classifier) current(ctx context.Context) (categories.Snapshot, Prepared, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Ready && c.prepared != nil {
		return c.snap, c.prepared, nil
	}
	prepared, err := c.strategy.Prepare(ctx, c.snap)
	if err != nil {
		return c.snap, nil, err
	}
	c.prepared = prepared
	c.state = Ready
	c.logger.Debug("classifier prepared", "version", c.snap.Version)
	return c.snap, prepared, nil
}

// degrade logs and counts a failed collaborator call and returns it as an
// ErrUnavailable error.
func (c *Classifier) degrade(op string, err error) error {
	c.logger.Warn("classification degraded", "op", op, "err", err)
	if c.metrics != nil {
		c.metrics.RecordCollaboratorFailure("classify-" + op)
	}
	if !errors.Is(err, inference.ErrUnavailable) {
		err = inference.Unavailable(c.strategy.Name(), err)
	}
	return fmt.Errorf("classify: %s: %w", op, err)
}

func (c *Classifier) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RecordCacheHit()
	} else {
		c.metrics.RecordCacheMiss()
	}
}

// decide fills a score for every category, clamps to [0,1] and picks the
// argmax. Names are sorted, so ties go to the first name.
func decide(names []string, raw map[string]float64, threshold float64) Result {
	scores := make(map[string]float64, len(names))
	best, bestScore := categories.Other, -1.0
	for _, name := range names {
		s := clamp(raw[name])
		scores[name] = s
		if s > bestScore {
			best, bestScore = name, s
		}
	}
	if bestScore < 0 {
		return Result{Label: categories.Other, Scores: scores}
	}
	res := Result{Label: best, Confidence: bestScore, Scores: scores}
	if bestScore < threshold {
		res.Label = categories.Other
	}
	return res
}

func fallback(snap categories.Snapshot) Result {
	scores := make(map[string]float64, len(snap.Names))
	for _, name := range snap.Names {
		scores[name] = 0
	}
	return Result{Label: categories.Other, Confidence: 0, Scores: scores}
}

func copyResult(r Result) Result {
	scores := make(map[string]float64, len(r.Scores))
	for k, v := range r.Scores {
		scores[k] = v
	}
	r.Scores = scores
	return r
}

func validThreshold(t float64) bool {
	return t >= 0 && t <= 1
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// TopScores returns the n highest scoring categories, best first.
func (r Result) TopScores(n int) []string {
	names := make([]string, 0, len(r.Scores))
	for name := range r.Scores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.Scores[names[i]] == r.Scores[names[j]] {
			return names[i] < names[j]
		}
		return r.Scores[names[i]] > r.Scores[names[j]]
	})
	if n >= 0 && n < len(names) {
		names = names[:n]
	}
	return names
}
