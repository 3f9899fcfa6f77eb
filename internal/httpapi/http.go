// Package httpapi exposes the analysis engine over HTTP under /api and /ops.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/backfill"
	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/extract"
	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/logging"
	"police_call_analytics/internal/metrics"
	"police_call_analytics/internal/pipeline"
	"police_call_analytics/internal/queue"
	"police_call_analytics/internal/store"
)

const maxListLimit = 500

// Deps are the services behind the router. Queue and Backfill may be nil.
type Deps struct {
	Analyzer       *analysis.Service
	Records        *store.Store
	Classifier     *classify.Classifier
	Extractor      *extract.Extractor
	Categories     *categories.Store
	Metrics        *metrics.Metrics
	Queue          *queue.Queue
	Backfill       func(ctx context.Context, limit int) (backfill.Summary, error)
	BackfillLimit  int
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	deps   Deps
	logger *slog.Logger
}

func NewRouter(deps Deps) *Router {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 25 << 20
	}
	return &Router{deps: deps, logger: logging.OrDiscard(deps.Logger).With("component", "http")}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze", r.analyzeUpload)
	mux.HandleFunc("POST /api/analyze/text", r.analyzeText)
	mux.HandleFunc("GET /api/analyses", r.listAnalyses)
	mux.HandleFunc("GET /api/analyses/{id}", r.getAnalysis)
	mux.HandleFunc("GET /api/analyses/{id}/report", r.report)
	mux.HandleFunc("POST /api/classify", r.classify)
	mux.HandleFunc("POST /api/extract", r.extract)
	mux.HandleFunc("GET /api/categories", r.listCategories)
	mux.HandleFunc("PUT /api/categories/{name}", r.putCategory)
	mux.HandleFunc("DELETE /api/categories/{name}", r.deleteCategory)
	mux.HandleFunc("GET /api/weapon-labels", r.weaponLabels)
	mux.HandleFunc("PUT /api/weapon-labels", r.setWeaponLabels)
	mux.HandleFunc("GET /ops/health", r.health)
	mux.HandleFunc("GET /ops/metrics", r.metrics)
	mux.HandleFunc("POST /ops/backfill", r.backfill)
}

// Handler returns a mux with every route registered.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	r.Register(mux)
	return mux
}

func (r *Router) analyzeUpload(w http.ResponseWriter, req *http.Request) {
	limit := r.deps.MaxUploadBytes
	req.Body = http.MaxBytesReader(w, req.Body, limit+1<<20)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, fmt.Sprintf("file exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		http.Error(w, "missing form file \"file\"", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if !pipeline.IsAudio(header.Filename) {
		http.Error(w, "unsupported audio format", http.StatusBadRequest)
		return
	}
	audio, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(audio)) > limit {
		http.Error(w, fmt.Sprintf("file exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
		return
	}
	rec, err := r.deps.Analyzer.AnalyzeAudio(req.Context(), header.Filename, audio)
	r.respondRecord(w, rec, err)
}

func (r *Router) analyzeText(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Source   string `json:"source"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	rec, err := r.deps.Analyzer.AnalyzeText(req.Context(), body.Source, body.Text, body.Language)
	r.respondRecord(w, rec, err)
}

// respondRecord returns the record even when saving it failed; the save
// error is reported next to it.
func (r *Router) respondRecord(w http.ResponseWriter, rec analysis.Record, err error) {
	if err == nil {
		respondJSONStatus(w, http.StatusCreated, rec)
		return
	}
	r.logger.Error("analysis not stored", "id", rec.Metadata.ID, "err", err)
	respondJSONStatus(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "analysis": rec})
}

func (r *Router) listAnalyses(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := r.deps.Records.List(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (r *Router) findRecord(w http.ResponseWriter, req *http.Request) (analysis.Record, bool) {
	rec, err := r.deps.Records.Find(req.Context(), req.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, req)
		return rec, false
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return rec, false
	}
	return rec, true
}

func (r *Router) getAnalysis(w http.ResponseWriter, req *http.Request) {
	if rec, ok := r.findRecord(w, req); ok {
		respondJSON(w, rec)
	}
}

func (r *Router) report(w http.ResponseWriter, req *http.Request) {
	rec, ok := r.findRecord(w, req)
	if !ok {
		return
	}
	body, err := analysis.MarshalReport(rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", analysis.ReportFilename(rec.Metadata.ProcessedAt)))
	_, _ = w.Write(body)
}

type classifyResponse struct {
	classify.Result
	Warning string `json:"warning,omitempty"`
}

func (r *Router) classify(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text      string   `json:"text"`
		Threshold *float64 `json:"threshold"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	threshold := r.deps.Classifier.Threshold()
	if body.Threshold != nil {
		threshold = *body.Threshold
	}
	res, err := r.deps.Classifier.ClassifyWithThreshold(req.Context(), body.Text, threshold)
	switch {
	case errors.Is(err, classify.ErrInvalidThreshold):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, inference.ErrUnavailable):
		respondJSON(w, classifyResponse{Result: res, Warning: err.Error()})
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, classifyResponse{Result: res})
}

func (r *Router) extract(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	respondJSON(w, r.deps.Extractor.Extract(req.Context(), body.Text))
}

func (r *Router) listCategories(w http.ResponseWriter, req *http.Request) {
	snap := r.deps.Categories.Snapshot()
	respondJSON(w, map[string]any{"version": snap.Version, "categories": snap.Descriptions})
}

func (r *Router) putCategory(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.deps.Categories.Update(req.PathValue("name"), body.Description); err != nil {
		http.Error(w, err.Error(), categories.MapHTTPStatus(err))
		return
	}
	r.listCategories(w, req)
}

func (r *Router) deleteCategory(w http.ResponseWriter, req *http.Request) {
	name := strings.TrimSpace(req.PathValue("name"))
	removed, err := r.deps.Categories.Remove(name)
	if err != nil {
		http.Error(w, err.Error(), categories.MapHTTPStatus(err))
		return
	}
	if !removed {
		err := categories.ErrNotFound
		if name == categories.Other {
			err = categories.ErrProtected
		}
		http.Error(w, fmt.Sprintf("%s: %s", err, name), categories.MapHTTPStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) weaponLabels(w http.ResponseWriter, req *http.Request) {
	models := r.deps.Extractor.Models()
	if models == nil {
		http.Error(w, "model-backed extraction disabled", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]any{"labels": models.WeaponLabels()})
}

func (r *Router) setWeaponLabels(w http.ResponseWriter, req *http.Request) {
	models := r.deps.Extractor.Models()
	if models == nil {
		http.Error(w, "model-backed extraction disabled", http.StatusNotFound)
		return
	}
	var body struct {
		Labels []string `json:"labels"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	models.SetWeaponLabels(body.Labels)
	respondJSON(w, map[string]any{"labels": models.WeaponLabels()})
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Records.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if r.deps.Queue != nil && !r.deps.Queue.Healthy() {
		http.Error(w, "queue not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) metrics(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"classifier": map[string]any{
			"strategy":         r.deps.Classifier.Strategy(),
			"state":            r.deps.Classifier.State().String(),
			"threshold":        r.deps.Classifier.Threshold(),
			"cache_entries":    r.deps.Classifier.CacheLen(),
			"taxonomy_version": r.deps.Categories.Snapshot().Version,
		},
	}
	if r.deps.Metrics != nil {
		payload["counters"] = r.deps.Metrics.Snapshot()
	}
	if r.deps.Queue != nil {
		payload["queue"] = r.deps.Queue.Stats()
	}
	if counts, err := r.deps.Records.CountByLabel(req.Context()); err == nil {
		payload["stored_by_label"] = counts
	}
	respondJSON(w, payload)
}

func (r *Router) backfill(w http.ResponseWriter, req *http.Request) {
	if r.deps.Backfill == nil {
		http.Error(w, "backfill unavailable", http.StatusNotFound)
		return
	}
	limit := r.deps.BackfillLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	summary, err := r.deps.Backfill(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, summary)
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, payload any) {
	respondJSONStatus(w, http.StatusOK, payload)
}

func respondJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("write json", "err", err)
	}
}
