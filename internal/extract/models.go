package extract

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/logging"
)

// nerSlots maps NER entity groups onto slots. Unlisted groups are dropped.
var nerSlots = map[string]Slot{
	"LOC":  SlotLocations,
	"GPE":  SlotLocations,
	"FAC":  SlotLocations,
	"DATE": SlotTimes,
	"TIME": SlotTimes,
	"PER":  SlotSuspects,
	"ORG":  SlotOrganizations,
}

// FailureRecorder is told about every degraded collaborator call.
type FailureRecorder interface {
	RecordCollaboratorFailure(op string)
}

// ModelConfig tunes the model-backed extractor.
type ModelConfig struct {
	WeaponLabels    []string
	WeaponThreshold float64
	NERMinScore     float64
	Timeout         time.Duration
}

// ModelExtractor derives entities from an NER model and a multi-label weapon
// zero-shot pass. Either collaborator may be nil; a failed or missing
// collaborator contributes nothing.
type ModelExtractor struct {
	ner      inference.EntityRecognizer
	zeroShot inference.ZeroShotClassifier
	failures FailureRecorder
	logger   *slog.Logger

	weaponThreshold float64
	nerMinScore     float64
	timeout         time.Duration

	mu           sync.RWMutex
	weaponLabels []string
}

// NewModelExtractor wires the collaborators.
func NewModelExtractor(ner inference.EntityRecognizer, zeroShot inference.ZeroShotClassifier, cfg ModelConfig, failures FailureRecorder, logger *slog.Logger) *ModelExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &ModelExtractor{
		ner:             ner,
		zeroShot:        zeroShot,
		failures:        failures,
		logger:          logging.OrDiscard(logger).With("component", "model-extractor"),
		weaponThreshold: cfg.WeaponThreshold,
		nerMinScore:     cfg.NERMinScore,
		timeout:         cfg.Timeout,
		weaponLabels:    cleanLabels(cfg.WeaponLabels),
	}
}

// WeaponLabels returns the current zero-shot weapon labels.
func (m *ModelExtractor) WeaponLabels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.weaponLabels...)
}

// SetWeaponLabels replaces the weapon label set used by later calls.
func (m *ModelExtractor) SetWeaponLabels(labels []string) {
	clean := cleanLabels(labels)
	m.mu.Lock()
	m.weaponLabels = clean
	m.mu.Unlock()
	m.logger.Info("weapon labels updated", "count", len(clean))
}

// Extract runs NER and weapon detection concurrently. It never fails.
func (m *ModelExtractor) Extract(ctx context.Context, text string) Candidates {
	var nerOut, weaponOut Candidates
	var g errgroup.Group
	g.Go(func() error {
		nerOut = m.recognize(ctx, text)
		return nil
	})
	g.Go(func() error {
		weaponOut = m.detectWeapons(ctx, text)
		return nil
	})
	_ = g.Wait()

	out := NewCandidates()
	out.Merge(nerOut)
	out.Merge(weaponOut)
	return out
}

func (m *ModelExtractor) recognize(ctx context.Context, text string) Candidates {
	out := NewCandidates()
	if m.ner == nil {
		return out
	}
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	entities, err := m.ner.RecognizeEntities(callCtx, text)
	if err != nil {
		m.degrade("ner", err)
		return out
	}
	for _, e := range entities {
		slot, ok := nerSlots[entityGroup(e.Group)]
		if !ok || e.Score < m.nerMinScore {
			continue
		}
		out.Add(slot, cleanWord(e.Word))
	}
	return out
}

func (m *ModelExtractor) detectWeapons(ctx context.Context, text string) Candidates {
	out := NewCandidates()
	labels := m.WeaponLabels()
	if m.zeroShot == nil || len(labels) == 0 {
		return out
	}
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	res, err := m.zeroShot.ClassifyZeroShot(callCtx, text, labels, true)
	if err != nil {
		m.degrade("weapon-zero-shot", err)
		return out
	}
	for i, label := range res.Labels {
		if i < len(res.Scores) && res.Scores[i] >= m.weaponThreshold {
			out.Add(SlotWeapons, label)
		}
	}
	return out
}

func (m *ModelExtractor) degrade(op string, err error) {
	m.logger.Warn("collaborator unavailable, continuing without it", "op", op, "err", err)
	if m.failures != nil {
		m.failures.RecordCollaboratorFailure(op)
	}
}

// entityGroup strips IOB prefixes ("B-PER" -> "PER").
func entityGroup(group string) string {
	g := strings.ToUpper(strings.TrimSpace(group))
	if len(g) > 2 && (g[:2] == "B-" || g[:2] == "I-") {
		g = g[2:]
	}
	return g
}

// cleanWord removes WordPiece continuation markers left by some NER models.
func cleanWord(word string) string {
	return strings.TrimSpace(strings.ReplaceAll(word, " ##", ""))
}

func cleanLabels(labels []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		key := strings.ToLower(l)
		if l == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
