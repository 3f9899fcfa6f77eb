// Package pipeline moves recordings from the recordings directory through
// analysis on the worker queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/backfill"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/logging"
	"police_call_analytics/internal/queue"
	"police_call_analytics/internal/store"
)

// ErrTooLarge is returned for recordings above the configured size limit.
var ErrTooLarge = errors.New("recording exceeds size limit")

// Analyzer analyzes one audio recording.
type Analyzer interface {
	AnalyzeAudio(ctx context.Context, filename string, audio []byte) (analysis.Record, error)
}

// StatusStore tracks per-recording processing state.
type StatusStore interface {
	MarkRecording(ctx context.Context, filename, status, analysisID string, errMsg *string, ts time.Time) error
	Recordings(ctx context.Context) (map[string]store.Recording, error)
}

// Options configures a Processor.
type Options struct {
	RecordingsDir string
	WorkDir       string
	MaxBytes      int64
	RetryWindow   time.Duration
	RetryInterval time.Duration
}

// Processor ingests recordings and runs them through the analyzer.
type Processor struct {
	opts     Options
	analyzer Analyzer
	status   StatusStore
	queue    *queue.Queue
	logger   *slog.Logger
}

// NewProcessor wires a processor onto q.
func NewProcessor(opts Options, analyzer Analyzer, status StatusStore, q *queue.Queue, logger *slog.Logger) *Processor {
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = 2 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	return &Processor{
		opts:     opts,
		analyzer: analyzer,
		status:   status,
		queue:    q,
		logger:   logging.OrDiscard(logger).With("component", "pipeline"),
	}
}

// IsAudio reports whether path has a supported audio extension.
func IsAudio(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg":
		return true
	default:
		return false
	}
}

// Submit queues filename (relative to the recordings directory) without
// blocking. It returns false when the queue rejected the job.
func (p *Processor) Submit(ctx context.Context, filename string) bool {
	filename = filepath.Base(filename)
	if !p.queue.Enqueue(p.job(filename)) {
		return false
	}
	p.mark(ctx, filename, store.StatusQueued, "", nil)
	return true
}

// QueueRecord submits a backfill candidate, retrying while the queue is full.
func (p *Processor) QueueRecord(ctx context.Context, rec backfill.Record) backfill.EnqueueResult {
	enqueued, dropped := p.queue.EnqueueWithRetry(ctx, p.job(rec.Filename), p.opts.RetryWindow, p.opts.RetryInterval)
	if enqueued {
		p.mark(ctx, rec.Filename, store.StatusQueued, "", nil)
	}
	return backfill.EnqueueResult{Enqueued: enqueued, DroppedFull: dropped}
}

// ListCandidates lists every audio file in the recordings directory together
// with its stored processing status.
func (p *Processor) ListCandidates(ctx context.Context) ([]backfill.Record, error) {
	entries, err := os.ReadDir(p.opts.RecordingsDir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}
	known, err := p.status.Recordings(ctx)
	if err != nil {
		return nil, err
	}
	var out []backfill.Record
	for _, e := range entries {
		if e.IsDir() || !IsAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec := backfill.Record{Filename: e.Name(), ModTime: info.ModTime(), SizeBytes: info.Size()}
		if st, ok := known[e.Name()]; ok {
			rec.Status = st.Status
			rec.UpdatedAt = st.UpdatedAt
		}
		out = append(out, rec)
	}
	return out, nil
}

// OnBackfillComplete logs the backfill outcome.
func (p *Processor) OnBackfillComplete(summary backfill.Summary) {
	p.logger.Info("backfill complete",
		"total", summary.TotalCandidates,
		"unprocessed", summary.Unprocessed,
		"selected", summary.SelectedForBackfill,
		"enqueued", summary.EnqueueSucceeded,
		"dropped_full", summary.EnqueueDroppedFull)
}

func (p *Processor) job(filename string) queue.Job {
	return queue.Job{
		ID:     filename,
		Source: "recordings",
		Work: func(ctx context.Context) error {
			_, err := p.Process(ctx, filename)
			return err
		},
	}
}

// Process ingests and analyzes one recording synchronously.
func (p *Processor) Process(ctx context.Context, filename string) (analysis.Record, error) {
	p.mark(ctx, filename, store.StatusProcessing, "", nil)
	rec, err := p.process(ctx, filename)
	if err != nil {
		msg := err.Error()
		p.mark(ctx, filename, store.StatusError, rec.Metadata.ID, &msg)
		return rec, err
	}
	p.mark(ctx, filename, store.StatusDone, rec.Metadata.ID, nil)
	return rec, nil
}

func (p *Processor) process(ctx context.Context, filename string) (analysis.Record, error) {
	dst, err := p.ingest(filename)
	if err != nil {
		return analysis.Record{}, err
	}
	audio, err := os.ReadFile(dst)
	if err != nil {
		return analysis.Record{}, err
	}
	return p.analyzer.AnalyzeAudio(ctx, filename, audio)
}

// ingest copies the recording into the work directory so the source can be
// rotated away while the job runs.
func (p *Processor) ingest(filename string) (string, error) {
	src := filepath.Join(p.opts.RecordingsDir, filename)
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if p.opts.MaxBytes > 0 && info.Size() > p.opts.MaxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, filename, info.Size())
	}
	if p.opts.WorkDir == "" {
		return src, nil
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(p.opts.WorkDir, filename)
	if _, err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("ingest %s: %w", filename, err)
	}
	return dst, nil
}

func (p *Processor) mark(ctx context.Context, filename, status, analysisID string, errMsg *string) {
	if p.status == nil {
		return
	}
	if err := p.status.MarkRecording(ctx, filename, status, analysisID, errMsg, config.Now()); err != nil {
		p.logger.Warn("record status update failed", "filename", filename, "status", status, "err", err)
	}
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
