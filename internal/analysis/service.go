package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/extract"
	"police_call_analytics/internal/inference"
	"police_call_analytics/internal/logging"
)

// Extractor finds entities in a transcript.
type Extractor interface {
	Extract(ctx context.Context, text string) extract.Result
}

// Classifier labels a transcript.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// Repository persists records. FindByHash reports found=false when no record
// exists for the audio digest.
type Repository interface {
	FindByHash(ctx context.Context, sha256 string) (rec Record, found bool, err error)
	Save(ctx context.Context, rec Record) error
}

// Publisher receives every completed record.
type Publisher interface {
	Publish(ev any)
}

// Recorder receives analysis counters.
type Recorder interface {
	RecordAnalysis(label string, degraded bool, err error)
	RecordCollaboratorFailure(op string)
}

// Deps are the collaborators of a Service. Extractor and Classifier are
// required; a nil Transcriber or Translator degrades those steps.
type Deps struct {
	Transcriber inference.Transcriber
	Translator  inference.Translator
	Extractor   Extractor
	Classifier  Classifier
	Repository  Repository
	Events      Publisher
	Metrics     Recorder
	Logger      *slog.Logger
	Timeout     time.Duration
	Now         func() time.Time
}

// Service runs the transcribe, translate, extract and classify steps.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService validates deps.
func NewService(deps Deps) (*Service, error) {
	if deps.Extractor == nil || deps.Classifier == nil {
		return nil, errors.New("analysis: extractor and classifier are required")
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 20 * time.Second
	}
	if deps.Now == nil {
		deps.Now = config.Now
	}
	return &Service{deps: deps, logger: logging.OrDiscard(deps.Logger).With("component", "analysis")}, nil
}

// AnalyzeAudio transcribes audio and analyzes the transcript. A recording
// that was already analyzed returns the stored record. Transcription and
// translation failures are noted as warnings on the record. A repository
// failure is returned together with the record.
func (s *Service) AnalyzeAudio(ctx context.Context, filename string, audio []byte) (Record, error) {
	sum := sha256.Sum256(audio)
	digest := hex.EncodeToString(sum[:])

	if s.deps.Repository != nil {
		existing, found, err := s.deps.Repository.FindByHash(ctx, digest)
		if err != nil {
			s.logger.Warn("lookup by hash failed", "filename", filename, "err", err)
		} else if found {
			s.logger.Info("recording already analyzed", "filename", filename, "id", existing.Metadata.ID)
			return existing, nil
		}
	}

	meta := s.newMetadata(filename, int64(len(audio)))
	meta.AudioSHA256 = digest

	var text, language string
	if s.deps.Transcriber == nil {
		meta.Warnings = append(meta.Warnings, "transcription unavailable: no transcriber configured")
	} else {
		callCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		tr, err := s.deps.Transcriber.Transcribe(callCtx, audio, filename)
		cancel()
		if err != nil {
			s.degrade(&meta, "transcribe", err)
		} else {
			text, language = tr.Text, tr.Language
		}
	}
	return s.analyze(ctx, meta, text, language)
}

// AnalyzeText analyzes an existing transcript. source names it in the
// record; language may be empty.
func (s *Service) AnalyzeText(ctx context.Context, source, text, language string) (Record, error) {
	if strings.TrimSpace(source) == "" {
		source = "transcript.txt"
	}
	meta := s.newMetadata(source, int64(len(text)))
	return s.analyze(ctx, meta, text, language)
}

func (s *Service) newMetadata(filename string, size int64) Metadata {
	return Metadata{
		ID:          uuid.NewString(),
		Filename:    filename,
		ProcessedAt: s.deps.Now(),
		FileSize:    HumanSize(size),
		SizeBytes:   size,
		Warnings:    []string{},
	}
}

func (s *Service) analyze(ctx context.Context, meta Metadata, text, language string) (Record, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if language == "" {
		language = inference.GuessLanguage(text)
	}
	meta.Language = language

	transcript := Transcript{Original: text, Translated: text}
	if text != "" && inference.NeedsTranslation(language, text) {
		transcript = s.translate(ctx, &meta, text)
	}

	var (
		entities    extract.Result
		result      classify.Result
		classifyErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		entities = s.deps.Extractor.Extract(ctx, transcript.Translated)
		return nil
	})
	g.Go(func() error {
		result, classifyErr = s.deps.Classifier.Classify(ctx, transcript.Translated)
		return nil
	})
	_ = g.Wait()
	if classifyErr != nil {
		meta.Warnings = append(meta.Warnings, "classification unavailable: "+classifyErr.Error())
	}

	rec := Record{Metadata: meta, Transcript: transcript, Classification: result, Entities: entities}

	var saveErr error
	if s.deps.Repository != nil {
		if err := s.deps.Repository.Save(ctx, rec); err != nil {
			saveErr = fmt.Errorf("save analysis %s: %w", rec.Metadata.ID, err)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordAnalysis(result.Label, rec.Degraded(), saveErr)
	}
	if s.deps.Events != nil && saveErr == nil {
		s.deps.Events.Publish(rec)
	}

	s.logger.Info("analysis complete",
		"id", rec.Metadata.ID,
		"filename", rec.Metadata.Filename,
		"label", result.Label,
		"confidence", result.Confidence,
		"weapons", len(entities.Weapons),
		"warnings", len(rec.Metadata.Warnings),
		"duration_ms", time.Since(start).Milliseconds())
	return rec, saveErr
}

func (s *Service) translate(ctx context.Context, meta *Metadata, text string) Transcript {
	out := Transcript{Original: text, Translated: text}
	if s.deps.Translator == nil {
		meta.Warnings = append(meta.Warnings, "translation unavailable: no translator configured")
		return out
	}
	callCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()
	translated, err := s.deps.Translator.Translate(callCtx, text)
	if err != nil {
		s.degrade(meta, "translate", err)
		return out
	}
	if translated = strings.TrimSpace(translated); translated != "" {
		out.Translated = translated
		out.WasTranslated = translated != text
	}
	return out
}

func (s *Service) degrade(meta *Metadata, op string, err error) {
	s.logger.Warn("collaborator unavailable, continuing without it", "op", op, "filename", meta.Filename, "err", err)
	meta.Warnings = append(meta.Warnings, op+" unavailable: "+err.Error())
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCollaboratorFailure(op)
	}
}
