// Package app wires configuration into the running analysis service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/backfill"
	"police_call_analytics/internal/categories"
	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/events"
	"police_call_analytics/internal/extract"
	"police_call_analytics/internal/httpapi"
	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/inference/onnx"
	"police_call_analytics/internal/logging"
	"police_call_analytics/internal/metrics"
	"police_call_analytics/internal/notify"
	"police_call_analytics/internal/pipeline"
	"police_call_analytics/internal/queue"
	"police_call_analytics/internal/store"
	"police_call_analytics/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store      *store.Store
	categories *categories.Store
	classifier *classify.Classifier
	extractor  *extract.Extractor
	analyzer   *analysis.Service
	metrics    *metrics.Metrics
	queue      *queue.Queue
	processor  *pipeline.Processor
	watcher    *watch.Watcher
	bus        *events.Bus
	notifier   *notify.Notifier
	router     *httpapi.Router

	closers []io.Closer
}

// New builds the application. Nothing runs until Run.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New(), bus: events.NewBus()}

	for _, dir := range []string{cfg.RecordingsDir, cfg.WorkDir, filepath.Dir(cfg.DBPath), filepath.Dir(cfg.CategoriesPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st)

	cats, err := categories.Open(cfg.CategoriesPath, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.categories = cats

	hf := inference.NewHuggingFace(cfg.Inference.BaseURL, cfg.Inference.Token, inference.HFModels{
		Whisper:     cfg.Inference.WhisperModel,
		Translation: cfg.Inference.TranslationModel,
		NER:         cfg.Inference.NERModel,
		ZeroShot:    cfg.Inference.ZeroShotModel,
		Embedding:   cfg.Inference.EmbeddingModel,
	}, nil)
	hf.SetEmbeddingURL(cfg.Inference.EmbeddingURL)

	strategy, err := a.strategy(hf)
	if err != nil {
		a.Close()
		return nil, err
	}
	clf, err := classify.New(strategy, cats.Snapshot(),
		classify.WithThreshold(cfg.Engine.ClassifyThreshold),
		classify.WithCacheSize(cfg.Engine.CacheSize),
		classify.WithTimeout(cfg.Engine.CollaboratorTimeout()),
		classify.WithRecorder(a.metrics),
		classify.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	cats.Subscribe(clf.SetCategories)
	a.classifier = clf

	models := extract.NewModelExtractor(hf, hf, extract.ModelConfig{
		WeaponLabels:    cfg.Engine.WeaponLabels,
		WeaponThreshold: cfg.Engine.WeaponThreshold,
		NERMinScore:     cfg.Engine.NERMinScore,
		Timeout:         cfg.Engine.CollaboratorTimeout(),
	}, a.metrics, logger)
	a.extractor = extract.New(extract.DefaultRules(cfg.Engine.WeaponKeywordLanguages...), models, logger)

	a.analyzer, err = analysis.NewService(analysis.Deps{
		Transcriber: hf,
		Translator:  hf,
		Extractor:   a.extractor,
		Classifier:  clf,
		Repository:  st,
		Events:      a.bus,
		Metrics:     a.metrics,
		Logger:      logger,
		Timeout:     cfg.Engine.CollaboratorTimeout(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.queue = queue.New(cfg.QueueSize, cfg.WorkerCount, time.Duration(cfg.JobTimeoutSec)*time.Second, a.metrics, logger)
	a.processor = pipeline.NewProcessor(pipeline.Options{
		RecordingsDir: cfg.RecordingsDir,
		WorkDir:       cfg.WorkDir,
		MaxBytes:      cfg.MaxUploadBytes,
	}, a.analyzer, st, a.queue, logger)
	a.watcher = watch.New(cfg.RecordingsDir, cfg.EnableWatcher, a.processor, logger)
	a.notifier = notify.New(cfg.Notify, nil, logger)

	a.router = httpapi.NewRouter(httpapi.Deps{
		Analyzer:   a.analyzer,
		Records:    st,
		Classifier: clf,
		Extractor:  a.extractor,
		Categories: cats,
		Metrics:    a.metrics,
		Queue:      a.queue,
		Backfill: func(ctx context.Context, limit int) (backfill.Summary, error) {
			return backfill.Execute(ctx, a.processor, limit, logger)
		},
		BackfillLimit:  cfg.BackfillLimit,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	return a, nil
}

// strategy picks the classification strategy. The embedding strategy is
// primary; zero-shot is the alternate.
func (a *App) strategy(hf *inference.HuggingFace) (classify.Strategy, error) {
	switch a.cfg.Engine.Strategy {
	case config.StrategyZeroShot:
		return classify.NewZeroShotStrategy(hf), nil
	case config.StrategyEmbedding, "":
	default:
		return nil, fmt.Errorf("unknown classifier strategy %q", a.cfg.Engine.Strategy)
	}
	if a.cfg.Inference.Embedder != config.EmbedderONNX {
		return classify.NewEmbeddingStrategy(hf), nil
	}
	emb, err := onnx.New(onnx.Config{
		LibraryPath:   a.cfg.Inference.ONNXLibraryPath,
		ModelPath:     a.cfg.Inference.ONNXModelPath,
		TokenizerPath: a.cfg.Inference.TokenizerPath,
		Dimensions:    a.cfg.Inference.EmbeddingDims,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, emb)
	return classify.NewEmbeddingStrategy(emb), nil
}

// Run starts the workers, watchers and HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx)
	defer a.bus.Close()

	if err := a.categories.Watch(ctx); err != nil {
		a.logger.Warn("category file watch unavailable", "path", a.cfg.CategoriesPath, "err", err)
	}
	go func() {
		if err := a.classifier.Warm(ctx); err != nil {
			a.logger.Warn("classifier warm-up failed; will retry on first request", "err", err)
		}
	}()
	if a.notifier.Enabled() {
		go a.notifier.Run(ctx, a.bus.Subscribe(32))
	}
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	if a.cfg.BackfillLimit > 0 {
		backfill.Run(ctx, a.processor, a.cfg.BackfillLimit, a.logger)
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.router.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.queue.Stop(shutdownCtx)
	}()
	a.logger.Info("http listening", "addr", a.cfg.HTTPPort, "strategy", a.classifier.Strategy())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the database and model sessions.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Analyzer() *analysis.Service { return a.analyzer }
func (a *App) Classifier() *classify.Classifier { return a.classifier }
func (a *App) Extractor() *extract.Extractor { return a.extractor }
func (a *App) Categories() *categories.Store { return a.categories }
func (a *App) Store() *store.Store { return a.store }
func (a *App) Handler() http.Handler { return a.router.Handler() }
func (a *App) Processor() *pipeline.Processor { return a.processor }
