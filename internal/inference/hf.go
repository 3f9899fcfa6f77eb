package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// HFModels names the hosted model used for each collaborator.
type HFModels struct {
	Whisper     string
	Translation string
	NER         string
	ZeroShot    string
	Embedding   string
}

// HuggingFace implements every collaborator against the Hugging Face
// Inference API (POST {baseURL}/{model}). Embeddings go to the
// feature-extraction pipeline instead, since sentence-transformers models
// default to the sentence-similarity task on the model route.
type HuggingFace struct {
	baseURL  string
	embedURL string
	token    string
	models   HFModels
	client   *http.Client
}

// NewHuggingFace builds a client. A nil httpClient gets a 60s default.
func NewHuggingFace(baseURL, token string, models HFModels, httpClient *http.Client) *HuggingFace {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &HuggingFace{
		baseURL:  baseURL,
		embedURL: FeatureExtractionURL(baseURL),
		token:    strings.TrimSpace(token),
		models:   models,
		client:   httpClient,
	}
}

// FeatureExtractionURL derives the feature-extraction pipeline root from a
// model base URL: ".../models" becomes ".../pipeline/feature-extraction".
func FeatureExtractionURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	return strings.TrimSuffix(baseURL, "/models") + "/pipeline/feature-extraction"
}

// SetEmbeddingURL overrides the root Embed posts to, e.g. for a
// self-hosted embeddings server. Empty keeps the derived pipeline URL.
func (h *HuggingFace) SetEmbeddingURL(url string) {
	if url = strings.TrimRight(strings.TrimSpace(url), "/"); url != "" {
		h.embedURL = url
	}
}

// Transcribe posts the raw recording to the speech model.
func (h *HuggingFace) Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error) {
	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := h.post(ctx, h.models.Whisper, audioContentType(filename), bytes.NewReader(audio), &out); err != nil {
		return Transcription{}, Unavailable("transcribe", err)
	}
	text := strings.TrimSpace(out.Text)
	lang := strings.TrimSpace(out.Language)
	if lang == "" {
		lang = GuessLanguage(text)
	}
	return Transcription{Text: text, Language: lang}, nil
}

// Translate runs the translation model and returns its first candidate.
func (h *HuggingFace) Translate(ctx context.Context, text string) (string, error) {
	var out []struct {
		TranslationText string `json:"translation_text"`
	}
	if err := h.postJSON(ctx, h.models.Translation, map[string]any{"inputs": text}, &out); err != nil {
		return "", Unavailable("translate", err)
	}
	if len(out) == 0 {
		return "", Unavailable("translate", errors.New("empty translation response"))
	}
	return strings.TrimSpace(out[0].TranslationText), nil
}

// RecognizeEntities runs token classification with simple span aggregation.
func (h *HuggingFace) RecognizeEntities(ctx context.Context, text string) ([]Entity, error) {
	payload := map[string]any{
		"inputs":     text,
		"parameters": map[string]any{"aggregation_strategy": "simple"},
	}
	var raw []struct {
		Group  string  `json:"entity_group"`
		Entity string  `json:"entity"`
		Word   string  `json:"word"`
		Score  float64 `json:"score"`
	}
	if err := h.postJSON(ctx, h.models.NER, payload, &raw); err != nil {
		return nil, Unavailable("ner", err)
	}
	out := make([]Entity, 0, len(raw))
	for _, r := range raw {
		group := r.Group
		if group == "" {
			group = r.Entity
		}
		out = append(out, Entity{Group: group, Word: r.Word, Score: r.Score})
	}
	return out, nil
}

// ClassifyZeroShot scores text against labels with an NLI model.
func (h *HuggingFace) ClassifyZeroShot(ctx context.Context, text string, labels []string, multiLabel bool) (ZeroShotResult, error) {
	payload := map[string]any{
		"inputs": text,
		"parameters": map[string]any{
			"candidate_labels": labels,
			"multi_label":      multiLabel,
		},
	}
	var raw json.RawMessage
	if err := h.postJSON(ctx, h.models.ZeroShot, payload, &raw); err != nil {
		return ZeroShotResult{}, Unavailable("zero-shot", err)
	}
	res, err := decodeZeroShot(raw)
	if err != nil {
		return ZeroShotResult{}, Unavailable("zero-shot", err)
	}
	return res, nil
}

// decodeZeroShot accepts both the classic {labels, scores} object and the
// newer [{label, score}] list.
func decodeZeroShot(raw json.RawMessage) (ZeroShotResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pairs []struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
		}
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return ZeroShotResult{}, err
		}
		res := ZeroShotResult{}
		for _, p := range pairs {
			res.Labels = append(res.Labels, p.Label)
			res.Scores = append(res.Scores, p.Score)
		}
		return res, nil
	}
	var res ZeroShotResult
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return ZeroShotResult{}, err
	}
	if len(res.Labels) != len(res.Scores) {
		return ZeroShotResult{}, fmt.Errorf("zero-shot response has %d labels and %d scores", len(res.Labels), len(res.Scores))
	}
	return res, nil
}

// Embed runs feature extraction on a sentence-transformers model.
func (h *HuggingFace) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	buf, err := json.Marshal(map[string]any{"inputs": texts})
	if err != nil {
		return nil, err
	}
	var out [][]float32
	if err := h.postTo(ctx, h.embedURL, h.models.Embedding, "application/json", bytes.NewReader(buf), &out); err != nil {
		return nil, Unavailable("embed", err)
	}
	if len(out) != len(texts) {
		return nil, Unavailable("embed", fmt.Errorf("expected %d vectors, got %d", len(texts), len(out)))
	}
	return out, nil
}

func (h *HuggingFace) postJSON(ctx context.Context, model string, payload any, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.post(ctx, model, "application/json", bytes.NewReader(buf), out)
}

func (h *HuggingFace) post(ctx context.Context, model, contentType string, body io.Reader, out any) error {
	return h.postTo(ctx, h.baseURL, model, contentType, body, out)
}

func (h *HuggingFace) postTo(ctx context.Context, root, model, contentType string, body io.Reader, out any) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("no model configured")
	}
	endpoint := root + "/" + model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Model: model, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", model, err)
	}
	return nil
}

func audioContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
