package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"police_call_analytics/internal/config"
)

func testConfig(t *testing.T, strategy string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPPort:       ":0",
		RecordingsDir:  filepath.Join(dir, "recordings"),
		WorkDir:        filepath.Join(dir, "work"),
		DBPath:         filepath.Join(dir, "work", "analyses.db"),
		CategoriesPath: filepath.Join(dir, "config", "categories.json"),
		WorkerCount:    1,
		QueueSize:      4,
		JobTimeoutSec:  5,
		MaxUploadBytes: 1 << 20,
		Engine: config.EngineConfig{
			Strategy:               strategy,
			ClassifyThreshold:      0.45,
			WeaponThreshold:        0.4,
			NERMinScore:            0.5,
			CacheSize:              16,
			CollaboratorTimeoutSec: 1,
			WeaponLabels:           config.DefaultWeaponLabels,
			WeaponKeywordLanguages: []string{"en"},
		},
		Inference: config.InferenceConfig{
			BaseURL:  "http://127.0.0.1:1",
			Embedder: config.EmbedderHuggingFace,
		},
	}
}

func TestNewWiresStrategy(t *testing.T) {
	cases := []struct {
		strategy string
		want     string
	}{
		{config.StrategyEmbedding, "embedding"},
		{config.StrategyZeroShot, "zero-shot"},
	}
	for _, tc := range cases {
		t.Run(tc.strategy, func(t *testing.T) {
			a, err := New(testConfig(t, tc.strategy), nil)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer a.Close()
			if got := a.Classifier().Strategy(); got != tc.want {
				t.Fatalf("expected %s strategy, got %s", tc.want, got)
			}
			if a.Classifier().Threshold() != 0.45 {
				t.Fatalf("threshold not applied")
			}
		})
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	if _, err := New(testConfig(t, "keyword"), nil); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestCategoryChangesReachClassifier(t *testing.T) {
	a, err := New(testConfig(t, config.StrategyZeroShot), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	before := a.Classifier().Categories().Version
	if err := a.Categories().Update("Carjacking", "Taking a vehicle by force"); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap := a.Classifier().Categories()
	if snap.Version == before {
		t.Fatalf("classifier did not observe the taxonomy change")
	}
	if _, ok := snap.Descriptions["Carjacking"]; !ok {
		t.Fatalf("new category missing from classifier snapshot")
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
