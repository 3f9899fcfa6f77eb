package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Strategy names accepted by engine.strategy.
const (
	StrategyEmbedding = "embedding"
	StrategyZeroShot  = "zero-shot"
)

// Embedder backends accepted by inference.embedder.
const (
	EmbedderHuggingFace = "huggingface"
	EmbedderONNX        = "onnx"
)

const (
	defaultPort                = ":8080"
	defaultRecordingsDir       = "runtime/recordings"
	defaultWorkDir             = "runtime/work"
	defaultDBFile              = "analyses.db"
	defaultCategoriesPath      = "config/categories.json"
	defaultWorkerCount         = 2
	defaultQueueSize           = 64
	minQueueSize               = 1
	maxQueueSize               = 1024
	defaultJobTimeoutSec       = 300
	defaultBackfillLimit       = 50
	maxBackfillLimit           = 500
	defaultMaxUploadMB         = 25
	defaultClassifyThreshold   = 0.45
	defaultWeaponThreshold     = 0.4
	defaultNERMinScore         = 0.5
	defaultCacheSize           = 1000
	defaultCollaboratorTimeout = 20
	defaultEmbeddingDims       = 384
	defaultHFBaseURL           = "https://api-inference.huggingface.co/models"
)

// DefaultWeaponLabels is the zero-shot label set used for weapon detection.
var DefaultWeaponLabels = []string{
	"gun", "knife", "firearm", "handgun", "rifle",
	"shotgun", "blunt object", "sharp object", "explosive",
}

// Config holds service configuration derived from the config file and environment.
type Config struct {
	HTTPPort       string
	RecordingsDir  string
	WorkDir        string
	DBPath         string
	CategoriesPath string
	WorkerCount    int
	QueueSize      int
	JobTimeoutSec  int
	EnableWatcher  bool
	BackfillLimit  int
	MaxUploadBytes int64
	StrictConfig   bool

	Log       LogConfig
	Engine    EngineConfig
	Inference InferenceConfig
	Notify    NotifyConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// EngineConfig tunes extraction and classification. WeaponThreshold is kept
// lower than ClassifyThreshold so weak weapon signals are still surfaced.
type EngineConfig struct {
	Strategy               string
	ClassifyThreshold      float64
	WeaponThreshold        float64
	NERMinScore            float64
	CacheSize              int
	CollaboratorTimeoutSec int
	WeaponLabels           []string
	WeaponKeywordLanguages []string
}

// CollaboratorTimeout returns the per-call model timeout.
func (e EngineConfig) CollaboratorTimeout() time.Duration {
	return time.Duration(e.CollaboratorTimeoutSec) * time.Second
}

// InferenceConfig points the collaborators at their models.
type InferenceConfig struct {
	BaseURL          string
	Token            string
	WhisperModel     string
	TranslationModel string
	NERModel         string
	ZeroShotModel    string
	EmbeddingModel   string
	EmbeddingURL     string
	Embedder         string
	ONNXLibraryPath  string
	ONNXModelPath    string
	TokenizerPath    string
	EmbeddingDims    int
}

// NotifyConfig controls outbound GroupMe alerts.
type NotifyConfig struct {
	GroupMeBotID    string
	GroupMeURL      string
	AlertCategories []string
}

type fileConfig struct {
	HTTPPort       string              `json:"http_port" yaml:"http_port"`
	RecordingsDir  string              `json:"recordings_dir" yaml:"recordings_dir"`
	WorkDir        string              `json:"work_dir" yaml:"work_dir"`
	DBPath         string              `json:"db_path" yaml:"db_path"`
	CategoriesPath string              `json:"categories_path" yaml:"categories_path"`
	WorkerCount    *int                `json:"worker_count" yaml:"worker_count"`
	QueueSize      *int                `json:"queue_size" yaml:"queue_size"`
	JobTimeoutSec  *int                `json:"job_timeout_sec" yaml:"job_timeout_sec"`
	EnableWatcher  *bool               `json:"enable_watcher" yaml:"enable_watcher"`
	BackfillLimit  *int                `json:"backfill_limit" yaml:"backfill_limit"`
	MaxUploadMB    *int                `json:"max_upload_mb" yaml:"max_upload_mb"`
	Log            LogConfig           `json:"log" yaml:"log"`
	Engine         engineFileConfig    `json:"engine" yaml:"engine"`
	Inference      inferenceFileConfig `json:"inference" yaml:"inference"`
	Notify         notifyFileConfig    `json:"notify" yaml:"notify"`
}

type engineFileConfig struct {
	Strategy               string   `json:"strategy" yaml:"strategy"`
	ClassifyThreshold      *float64 `json:"classify_threshold" yaml:"classify_threshold"`
	WeaponThreshold        *float64 `json:"weapon_threshold" yaml:"weapon_threshold"`
	NERMinScore            *float64 `json:"ner_min_score" yaml:"ner_min_score"`
	CacheSize              *int     `json:"cache_size" yaml:"cache_size"`
	CollaboratorTimeoutSec *int     `json:"collaborator_timeout_sec" yaml:"collaborator_timeout_sec"`
	WeaponLabels           []string `json:"weapon_labels" yaml:"weapon_labels"`
	WeaponKeywordLanguages []string `json:"weapon_keyword_languages" yaml:"weapon_keyword_languages"`
}

type inferenceFileConfig struct {
	BaseURL          string `json:"base_url" yaml:"base_url"`
	WhisperModel     string `json:"whisper_model" yaml:"whisper_model"`
	TranslationModel string `json:"translation_model" yaml:"translation_model"`
	NERModel         string `json:"ner_model" yaml:"ner_model"`
	ZeroShotModel    string `json:"zero_shot_model" yaml:"zero_shot_model"`
	EmbeddingModel   string `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingURL     string `json:"embedding_url" yaml:"embedding_url"`
	Embedder         string `json:"embedder" yaml:"embedder"`
	ONNXLibraryPath  string `json:"onnx_library_path" yaml:"onnx_library_path"`
	ONNXModelPath    string `json:"onnx_model_path" yaml:"onnx_model_path"`
	TokenizerPath    string `json:"tokenizer_path" yaml:"tokenizer_path"`
	EmbeddingDims    *int   `json:"embedding_dims" yaml:"embedding_dims"`
}

type notifyFileConfig struct {
	GroupMeBotID    string   `json:"groupme_bot_id" yaml:"groupme_bot_id"`
	GroupMeURL      string   `json:"groupme_url" yaml:"groupme_url"`
	AlertCategories []string `json:"alert_categories" yaml:"alert_categories"`
}

// Load reads CONFIG_PATH (default config/config.yaml) plus the environment.
func Load() (Config, error) {
	return LoadFile(getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml")))
}

// LoadFile layers defaults, an optional .env file, the config file at path and
// environment overrides, in that order.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
	}

	fileCfg, fileErr := loadFileConfig(path)
	if fileErr != nil && !errors.Is(fileErr, os.ErrNotExist) {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", path, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", path, fileErr)
	}

	cfg.RecordingsDir = firstNonEmpty(os.Getenv("RECORDINGS_DIR"), fileCfg.RecordingsDir, defaultRecordingsDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))
	cfg.CategoriesPath = firstNonEmpty(os.Getenv("CATEGORIES_PATH"), fileCfg.CategoriesPath, defaultCategoriesPath)

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && cfg.HTTPPort == defaultPort {
		cfg.HTTPPort = legacyPort
	}
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	cfg.WorkerCount = intOr(fileCfg.WorkerCount, defaultWorkerCount)
	cfg.QueueSize = intOr(fileCfg.QueueSize, defaultQueueSize)
	cfg.JobTimeoutSec = intOr(fileCfg.JobTimeoutSec, defaultJobTimeoutSec)
	cfg.BackfillLimit = intOr(fileCfg.BackfillLimit, defaultBackfillLimit)
	cfg.EnableWatcher = true
	if fileCfg.EnableWatcher != nil {
		cfg.EnableWatcher = *fileCfg.EnableWatcher
	}
	maxUploadMB := intOr(fileCfg.MaxUploadMB, defaultMaxUploadMB)

	cfg.Log = LogConfig{
		Level:  firstNonEmpty(os.Getenv("LOG_LEVEL"), fileCfg.Log.Level, "info"),
		Format: firstNonEmpty(os.Getenv("LOG_FORMAT"), fileCfg.Log.Format, "text"),
	}
	cfg.Engine = engineFromFile(fileCfg.Engine)
	cfg.Inference = inferenceFromFile(fileCfg.Inference)
	cfg.Notify = NotifyConfig{
		GroupMeBotID:    firstNonEmpty(os.Getenv("GROUPME_BOT_ID"), fileCfg.Notify.GroupMeBotID),
		GroupMeURL:      firstNonEmpty(os.Getenv("GROUPME_URL"), fileCfg.Notify.GroupMeURL, "https://api.groupme.com/v3/bots/post"),
		AlertCategories: fileCfg.Notify.AlertCategories,
	}
	if v := strings.TrimSpace(os.Getenv("ALERT_CATEGORIES")); v != "" {
		cfg.Notify.AlertCategories = splitList(v)
	}

	intEnvs := []struct {
		key string
		dst *int
	}{
		{"WORKER_COUNT", &cfg.WorkerCount},
		{"QUEUE_SIZE", &cfg.QueueSize},
		{"JOB_TIMEOUT_SEC", &cfg.JobTimeoutSec},
		{"BACKFILL_LIMIT", &cfg.BackfillLimit},
		{"MAX_UPLOAD_MB", &maxUploadMB},
		{"CLASSIFY_CACHE_SIZE", &cfg.Engine.CacheSize},
		{"COLLABORATOR_TIMEOUT_SEC", &cfg.Engine.CollaboratorTimeoutSec},
		{"EMBEDDING_DIMS", &cfg.Inference.EmbeddingDims},
	}
	for _, e := range intEnvs {
		v, ok, err := parseIntEnv(e.key)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", e.key, err)
			}
			log.Printf("invalid %s: %v (using default)", e.key, err)
			continue
		}
		if ok {
			*e.dst = v
		}
	}

	floatEnvs := []struct {
		key string
		dst *float64
	}{
		{"CLASSIFY_THRESHOLD", &cfg.Engine.ClassifyThreshold},
		{"WEAPON_THRESHOLD", &cfg.Engine.WeaponThreshold},
		{"NER_MIN_SCORE", &cfg.Engine.NERMinScore},
	}
	for _, e := range floatEnvs {
		v, ok, err := parseFloatEnv(e.key)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", e.key, err)
			}
			log.Printf("invalid %s: %v (using default)", e.key, err)
			continue
		}
		if ok {
			*e.dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("ENABLE_WATCHER")); v != "" {
		cfg.EnableWatcher = parseBoolEnv("ENABLE_WATCHER")
	}

	if cfg.WorkerCount <= 0 {
		log.Printf("WORKER_COUNT must be positive, using default %d", defaultWorkerCount)
		cfg.WorkerCount = defaultWorkerCount
	}
	cfg.QueueSize = clampInt(cfg.QueueSize, minQueueSize, maxQueueSize)
	if cfg.QueueSize < cfg.WorkerCount {
		log.Printf("QUEUE_SIZE must be >= WORKER_COUNT; using %d", cfg.WorkerCount)
		cfg.QueueSize = cfg.WorkerCount
	}
	cfg.BackfillLimit = clampInt(cfg.BackfillLimit, 0, maxBackfillLimit)
	if maxUploadMB <= 0 {
		maxUploadMB = defaultMaxUploadMB
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) << 20

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing with defaults)", err)
		cfg = repairConfig(cfg)
	}

	log.Printf("config: recordings_dir=%s db=%s categories=%s strategy=%s embedder=%s", cfg.RecordingsDir, cfg.DBPath, cfg.CategoriesPath, cfg.Engine.Strategy, cfg.Inference.Embedder)
	return cfg, nil
}

func engineFromFile(f engineFileConfig) EngineConfig {
	e := EngineConfig{
		Strategy:               strings.ToLower(firstNonEmpty(os.Getenv("CLASSIFIER_STRATEGY"), f.Strategy, StrategyEmbedding)),
		ClassifyThreshold:      floatOr(f.ClassifyThreshold, defaultClassifyThreshold),
		WeaponThreshold:        floatOr(f.WeaponThreshold, defaultWeaponThreshold),
		NERMinScore:            floatOr(f.NERMinScore, defaultNERMinScore),
		CacheSize:              intOr(f.CacheSize, defaultCacheSize),
		CollaboratorTimeoutSec: intOr(f.CollaboratorTimeoutSec, defaultCollaboratorTimeout),
		WeaponLabels:           append([]string(nil), DefaultWeaponLabels...),
		WeaponKeywordLanguages: []string{"en"},
	}
	if len(f.WeaponLabels) > 0 {
		e.WeaponLabels = f.WeaponLabels
	}
	if len(f.WeaponKeywordLanguages) > 0 {
		e.WeaponKeywordLanguages = f.WeaponKeywordLanguages
	}
	if v := strings.TrimSpace(os.Getenv("WEAPON_LABELS")); v != "" {
		e.WeaponLabels = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("WEAPON_KEYWORD_LANGUAGES")); v != "" {
		e.WeaponKeywordLanguages = splitList(v)
	}
	return e
}

func inferenceFromFile(f inferenceFileConfig) InferenceConfig {
	return InferenceConfig{
		BaseURL:          strings.TrimRight(firstNonEmpty(os.Getenv("HF_BASE_URL"), f.BaseURL, defaultHFBaseURL), "/"),
		Token:            firstNonEmpty(os.Getenv("HF_TOKEN"), os.Getenv("HUGGINGFACE_TOKEN")),
		WhisperModel:     firstNonEmpty(os.Getenv("WHISPER_MODEL"), f.WhisperModel, "openai/whisper-base"),
		TranslationModel: firstNonEmpty(os.Getenv("TRANSLATION_MODEL"), f.TranslationModel, "Helsinki-NLP/opus-mt-mul-en"),
		NERModel:         firstNonEmpty(os.Getenv("NER_MODEL"), f.NERModel, "dslim/bert-base-NER"),
		ZeroShotModel:    firstNonEmpty(os.Getenv("ZERO_SHOT_MODEL"), f.ZeroShotModel, "facebook/bart-large-mnli"),
		EmbeddingModel:   firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), f.EmbeddingModel, "sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingURL:     strings.TrimRight(firstNonEmpty(os.Getenv("EMBEDDING_URL"), f.EmbeddingURL), "/"),
		Embedder:         strings.ToLower(firstNonEmpty(os.Getenv("EMBEDDER"), f.Embedder, EmbedderHuggingFace)),
		ONNXLibraryPath:  firstNonEmpty(os.Getenv("ONNX_LIBRARY_PATH"), f.ONNXLibraryPath),
		ONNXModelPath:    firstNonEmpty(os.Getenv("ONNX_MODEL_PATH"), f.ONNXModelPath),
		TokenizerPath:    firstNonEmpty(os.Getenv("TOKENIZER_PATH"), f.TokenizerPath),
		EmbeddingDims:    intOr(f.EmbeddingDims, defaultEmbeddingDims),
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.RecordingsDir) == "" {
		return errors.New("RECORDINGS_DIR is required")
	}
	if strings.TrimSpace(cfg.CategoriesPath) == "" {
		return errors.New("CATEGORIES_PATH is required")
	}
	if cfg.JobTimeoutSec <= 0 {
		return errors.New("job timeout must be positive")
	}
	switch cfg.Engine.Strategy {
	case StrategyEmbedding, StrategyZeroShot:
	default:
		return fmt.Errorf("engine.strategy must be %q or %q (got %q)", StrategyEmbedding, StrategyZeroShot, cfg.Engine.Strategy)
	}
	if !inUnitRange(cfg.Engine.ClassifyThreshold) {
		return fmt.Errorf("engine.classify_threshold must be within [0,1] (got %v)", cfg.Engine.ClassifyThreshold)
	}
	if !inUnitRange(cfg.Engine.WeaponThreshold) {
		return fmt.Errorf("engine.weapon_threshold must be within [0,1] (got %v)", cfg.Engine.WeaponThreshold)
	}
	if !inUnitRange(cfg.Engine.NERMinScore) {
		return fmt.Errorf("engine.ner_min_score must be within [0,1] (got %v)", cfg.Engine.NERMinScore)
	}
	if cfg.Engine.CacheSize <= 0 {
		return errors.New("engine.cache_size must be positive")
	}
	if cfg.Engine.CollaboratorTimeoutSec <= 0 {
		return errors.New("engine.collaborator_timeout_sec must be positive")
	}
	switch cfg.Inference.Embedder {
	case EmbedderHuggingFace:
	case EmbedderONNX:
		if cfg.Inference.ONNXModelPath == "" || cfg.Inference.TokenizerPath == "" {
			return errors.New("onnx embedder requires ONNX_MODEL_PATH and TOKENIZER_PATH")
		}
	default:
		return fmt.Errorf("inference.embedder must be %q or %q (got %q)", EmbedderHuggingFace, EmbedderONNX, cfg.Inference.Embedder)
	}
	return nil
}

// repairConfig resets the engine fields validateConfig rejects.
func repairConfig(cfg Config) Config {
	if cfg.Engine.Strategy != StrategyEmbedding && cfg.Engine.Strategy != StrategyZeroShot {
		cfg.Engine.Strategy = StrategyEmbedding
	}
	if !inUnitRange(cfg.Engine.ClassifyThreshold) {
		cfg.Engine.ClassifyThreshold = defaultClassifyThreshold
	}
	if !inUnitRange(cfg.Engine.WeaponThreshold) {
		cfg.Engine.WeaponThreshold = defaultWeaponThreshold
	}
	if !inUnitRange(cfg.Engine.NERMinScore) {
		cfg.Engine.NERMinScore = defaultNERMinScore
	}
	if cfg.Engine.CacheSize <= 0 {
		cfg.Engine.CacheSize = defaultCacheSize
	}
	if cfg.Engine.CollaboratorTimeoutSec <= 0 {
		cfg.Engine.CollaboratorTimeoutSec = defaultCollaboratorTimeout
	}
	if cfg.JobTimeoutSec <= 0 {
		cfg.JobTimeoutSec = defaultJobTimeoutSec
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = defaultRecordingsDir
	}
	if cfg.CategoriesPath == "" {
		cfg.CategoriesPath = defaultCategoriesPath
	}
	if cfg.Inference.Embedder != EmbedderHuggingFace {
		cfg.Inference.Embedder = EmbedderHuggingFace
	}
	return cfg
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseFloatEnv(key string) (float64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	return val, true, err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns utc time helper for deterministic timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
