package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/extract"
	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/metrics"
	"police_call_analytics/internal/store"
)

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (inference.Transcription, error) {
	return inference.Transcription{Text: string(audio), Language: "en"}, nil
}

// fakeZeroShot scores labels that appear in the text high, and Assault for knives.
type fakeZeroShot struct{}

func (fakeZeroShot) ClassifyZeroShot(ctx context.Context, text string, labels []string, multiLabel bool) (inference.ZeroShotResult, error) {
	res := inference.ZeroShotResult{}
	for _, l := range labels {
		score := 0.05
		if strings.Contains(strings.ToLower(text), strings.ToLower(l)) || (l == "Assault" && strings.Contains(text, "knife")) {
			score = 0.9
		}
		res.Labels = append(res.Labels, l)
		res.Scores = append(res.Scores, score)
	}
	return res, nil
}

type fakeNER struct{}

func (fakeNER) RecognizeEntities(ctx context.Context, text string) ([]inference.Entity, error) {
	return nil, nil
}

func setupTest(t *testing.T) (http.Handler, *categories.Store, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	cats, err := categories.Open(filepath.Join(dir, "categories.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	clf, err := classify.New(classify.NewZeroShotStrategy(fakeZeroShot{}), cats.Snapshot(), classify.WithRecorder(m))
	if err != nil {
		t.Fatal(err)
	}
	cats.Subscribe(clf.SetCategories)
	models := extract.NewModelExtractor(fakeNER{}, fakeZeroShot{}, extract.ModelConfig{WeaponLabels: []string{"knife", "gun"}, WeaponThreshold: 0.4}, m, nil)
	ex := extract.New(nil, models, nil)
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	svc, err := analysis.NewService(analysis.Deps{
		Transcriber: fakeTranscriber{},
		Extractor:   ex,
		Classifier:  clf,
		Repository:  st,
		Metrics:     m,
	})
	if err != nil {
		t.Fatal(err)
	}
	router := NewRouter(Deps{
		Analyzer:       svc,
		Records:        st,
		Classifier:     clf,
		Extractor:      ex,
		Categories:     cats,
		Metrics:        m,
		MaxUploadBytes: 1024,
	})
	return router.Handler(), cats, st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func upload(t *testing.T, h http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAnalyzeTextAndFetch(t *testing.T) {
	h, _, _ := setupTest(t)
	rr := do(t, h, http.MethodPost, "/api/analyze/text",
		`{"text":"Suspect is John, a white male about 30, pulled out a knife at Pete's coffee at 3:45 PM"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body)
	}
	var rec analysis.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Classification.Label != "Assault" {
		t.Fatalf("expected Assault, got %+v", rec.Classification)
	}
	if diff := cmp.Diff([]string{"John", "white male ~30"}, rec.Entities.Suspects); diff != "" {
		t.Fatalf("suspects mismatch (-want +got):\n%s", diff)
	}

	rr = do(t, h, http.MethodGet, "/api/analyses/"+rec.Metadata.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/api/analyses/"+rec.Metadata.ID+"/report", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Disposition"), "police_report_") {
		t.Fatalf("unexpected report response %d %q", rr.Code, rr.Header().Get("Content-Disposition"))
	}
	rr = do(t, h, http.MethodGet, "/api/analyses", "")
	var list []store.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one listed analysis, got %s (%v)", rr.Body, err)
	}
	if rr := do(t, h, http.MethodGet, "/api/analyses/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAnalyzeUpload(t *testing.T) {
	h, _, _ := setupTest(t)
	cases := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{"audio", "call.mp3", []byte("he has a knife"), http.StatusCreated},
		{"unsupported", "call.txt", []byte("he has a knife"), http.StatusBadRequest},
		{"too large", "big.wav", bytes.Repeat([]byte("a"), 2048), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := upload(t, h, tc.filename, tc.content)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body)
			}
		})
	}
}

func TestClassifyEndpoint(t *testing.T) {
	h, _, _ := setupTest(t)
	if rr := do(t, h, http.MethodPost, "/api/classify", `{"text":"arson at the mill","threshold":1.5}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad threshold, got %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/api/classify", `{"text":"arson at the mill","threshold":0.95}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res classify.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Label != "Other" || res.Confidence != 0.9 || len(res.Scores) != 11 {
		t.Fatalf("expected thresholded Other with raw confidence, got %+v", res)
	}
}

func TestExtractEndpoint(t *testing.T) {
	h, _, _ := setupTest(t)
	rr := do(t, h, http.MethodPost, "/api/extract", `{"text":"   "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"locations":[],"times":[],"suspects":[],"weapons":[],"organizations":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	h, cats, _ := setupTest(t)
	if rr := do(t, h, http.MethodPut, "/api/categories/Carjacking", `{"description":"Taking a vehicle by force"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	if _, ok := cats.All()["Carjacking"]; !ok {
		t.Fatalf("category not stored")
	}
	if rr := do(t, h, http.MethodPut, "/api/categories/Carjacking", `{"description":"  "}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank description, got %d", rr.Code)
	}
	cases := []struct {
		name string
		want int
	}{
		{"Other", http.StatusConflict},
		{"Nope", http.StatusNotFound},
		{"Carjacking", http.StatusNoContent},
	}
	for _, tc := range cases {
		if rr := do(t, h, http.MethodDelete, "/api/categories/"+tc.name, ""); rr.Code != tc.want {
			t.Fatalf("delete %s: expected %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
	if _, ok := cats.All()[categories.Other]; !ok {
		t.Fatalf("Other must survive")
	}
}

func TestWeaponLabelsEndpoint(t *testing.T) {
	h, _, _ := setupTest(t)
	rr := do(t, h, http.MethodPut, "/api/weapon-labels", `{"labels":["taser","machete"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/api/weapon-labels", "")
	var body struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]string{"taser", "machete"}, body.Labels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h, _, _ := setupTest(t)
	if rr := do(t, h, http.MethodGet, "/ops/health", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/ops/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	clf, ok := payload["classifier"].(map[string]any)
	if !ok || clf["strategy"] != "zero-shot" {
		t.Fatalf("unexpected metrics payload %v", payload)
	}
	if rr := do(t, h, http.MethodPost, "/ops/backfill", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without backfill, got %d", rr.Code)
	}
}
