// Package onnx runs a sentence-transformer exported to ONNX in-process, so the
// classifier can embed text without a network round trip.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"police_call_analytics/internal/inference"
)

// Config locates the runtime library, model and tokenizer.
type Config struct {
	LibraryPath   string
	ModelPath     string
	TokenizerPath string
	Dimensions    int
	MaxTokens     int
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Embedder implements inference.Embedder with mean pooling over the last
// hidden state followed by L2 normalization (all-MiniLM-L6-v2 semantics).
type Embedder struct {
	mu        sync.Mutex
	tk        *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	dims      int
	maxTokens int
}

var _ inference.Embedder = (*Embedder)(nil)

// New loads the tokenizer and creates the ONNX session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("onnx embedder requires model and tokenizer paths")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx model %s: %w", cfg.ModelPath, err)
	}
	return &Embedder{tk: tk, session: session, dims: cfg.Dimensions, maxTokens: cfg.MaxTokens}, nil
}

// Embed encodes each text independently. Sessions are not safe for concurrent
// Run calls, so calls are serialized.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, inference.Unavailable("onnx embed", err)
		}
		vec, err := e.embedOne(text)
		if err != nil {
			return nil, inference.Unavailable("onnx embed", err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *Embedder) embedOne(text string) ([]float32, error) {
	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := truncate(enc.GetIds(), e.maxTokens)
	mask := truncate(enc.GetAttentionMask(), e.maxTokens)
	types := truncate(enc.GetTypeIds(), e.maxTokens)
	seqLen := len(ids)
	if seqLen == 0 {
		return make([]float32, e.dims), nil
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsT, err := ort.NewTensor(shape, toInt64(ids))
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	mask64 := toInt64(mask)
	maskT, err := ort.NewTensor(shape, mask64)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, toInt64(types))
	if err != nil {
		return nil, err
	}
	defer typesT.Destroy()

	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(e.dims)))
	if err != nil {
		return nil, err
	}
	defer hidden.Destroy()

	if err := e.session.Run([]ort.Value{idsT, maskT, typesT}, []ort.Value{hidden}); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	vec := meanPool(hidden.GetData(), mask64, seqLen, e.dims)
	l2Normalize(vec)
	return vec, nil
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// meanPool averages token vectors whose attention mask is set.
func meanPool(hidden []float32, mask []int64, seqLen, dims int) []float32 {
	out := make([]float32, dims)
	var count float32
	for t := 0; t < seqLen; t++ {
		if t >= len(mask) || mask[t] == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for d, v := range row {
			out[d] += v
		}
		count++
	}
	if count == 0 {
		return out
	}
	for d := range out {
		out[d] /= count
	}
	return out
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// truncate keeps the first n tokens, preserving the trailing separator.
func truncate(tokens []int, n int) []int {
	if len(tokens) <= n {
		return tokens
	}
	out := append([]int(nil), tokens[:n]...)
	out[n-1] = tokens[len(tokens)-1]
	return out
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
