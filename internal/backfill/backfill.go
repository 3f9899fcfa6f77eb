// Package backfill selects recordings that were never analyzed and queues
// them, newest first.
package backfill

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"police_call_analytics/internal/logging"
)

// Record represents a file and its processing state used for backfill decisions.
type Record struct {
	Filename  string
	ModTime   time.Time
	SizeBytes int64
	Status    string
	UpdatedAt time.Time
}

// Status constants used by selection logic.
const (
	StatusDone       = "done"
	StatusProcessing = "processing"
	StatusQueued     = "queued"
	StatusError      = "error"
)

// Summary captures backfill execution metrics.
type Summary struct {
	TotalCandidates     int `json:"total"`
	AlreadyProcessed    int `json:"already_processed"`
	InFlight            int `json:"in_flight"`
	Unprocessed         int `json:"unprocessed"`
	SelectedForBackfill int `json:"selected"`
	AttemptedEnqueue    int `json:"attempted_enqueue"`
	EnqueueSucceeded    int `json:"enqueued"`
	EnqueueDroppedFull  int `json:"dropped_full"`
}

// StaleAfter is how long a queued or processing record may sit before it is
// assumed lost (for example across a restart) and selected again.
var StaleAfter = 3 * time.Hour

// EnqueueResult captures queueing outcome for a record.
type EnqueueResult struct {
	Enqueued    bool
	DroppedFull bool
}

// Repository describes the data source needed for backfill.
type Repository interface {
	ListCandidates(ctx context.Context) ([]Record, error)
	QueueRecord(ctx context.Context, rec Record) EnqueueResult
	OnBackfillComplete(summary Summary)
}

// SelectPending returns up to limit records sorted by recency that are
// neither done nor already queued or processing. Errored records and stale
// in-flight records are retried.
func SelectPending(records []Record, limit int) ([]Record, Summary) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})

	summary := Summary{TotalCandidates: len(records)}
	staleBefore := time.Now().Add(-StaleAfter)
	unprocessed := make([]Record, 0, len(records))
	for _, r := range records {
		switch r.Status {
		case StatusDone:
			summary.AlreadyProcessed++
			continue
		case StatusQueued, StatusProcessing:
			if r.UpdatedAt.IsZero() || r.UpdatedAt.After(staleBefore) {
				summary.InFlight++
				continue
			}
		}
		unprocessed = append(unprocessed, r)
	}

	summary.Unprocessed = len(unprocessed)
	if limit >= 0 && limit < summary.Unprocessed {
		unprocessed = unprocessed[:limit]
	}
	summary.SelectedForBackfill = len(unprocessed)
	return unprocessed, summary
}

// Execute runs one backfill pass synchronously.
func Execute(ctx context.Context, repo Repository, limit int, logger *slog.Logger) (Summary, error) {
	logger = logging.OrDiscard(logger).With("component", "backfill")
	records, err := repo.ListCandidates(ctx)
	if err != nil {
		logger.Error("backfill list failed", "err", err)
		return Summary{}, err
	}

	selected, summary := SelectPending(records, limit)
	summary.AttemptedEnqueue = len(selected)

	for _, rec := range selected {
		if ctx.Err() != nil {
			break
		}
		result := repo.QueueRecord(ctx, rec)
		if result.Enqueued {
			summary.EnqueueSucceeded++
		}
		if result.DroppedFull {
			summary.EnqueueDroppedFull++
		}
	}

	logger.Info("backfill summary",
		"total", summary.TotalCandidates,
		"unprocessed", summary.Unprocessed,
		"selected", summary.SelectedForBackfill,
		"enqueued", summary.EnqueueSucceeded,
		"dropped_full", summary.EnqueueDroppedFull,
		"already_processed", summary.AlreadyProcessed)
	repo.OnBackfillComplete(summary)
	return summary, nil
}

// Run executes the backfill asynchronously.
func Run(ctx context.Context, repo Repository, limit int, logger *slog.Logger) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, _ = Execute(ctx, repo, limit, logger)
	}()
}
