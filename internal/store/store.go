// Package store persists analysis records and recording status in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/logging"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("analysis not found")

// Recording status values.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// Store wraps SQLite access for analyses and recordings.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: logging.OrDiscard(logger).With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			id TEXT PRIMARY KEY,
			filename TEXT,
			audio_sha256 TEXT,
			label TEXT,
			confidence REAL,
			processed_at TIMESTAMP,
			record_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_sha ON analyses(audio_sha256);`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_processed ON analyses(processed_at);`,
		`CREATE TABLE IF NOT EXISTS recordings (
			filename TEXT PRIMARY KEY,
			status TEXT,
			analysis_id TEXT,
			last_error TEXT,
			updated_at TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Summary is the list view of an analysis.
type Summary struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Recording is the processing state of one file in the recordings directory.
type Recording struct {
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	LastError  *string   `json:"last_error"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Save inserts rec. Records are immutable, so saving an existing id fails.
func (s *Store) Save(ctx context.Context, rec analysis.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	var sha sql.NullString
	if rec.Metadata.AudioSHA256 != "" {
		sha = sql.NullString{String: rec.Metadata.AudioSHA256, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO analyses(id, filename, audio_sha256, label, confidence, processed_at, record_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.Metadata.ID, rec.Metadata.Filename, sha, rec.Classification.Label, rec.Classification.Confidence,
		rec.Metadata.ProcessedAt, string(payload))
	if err != nil {
		return fmt.Errorf("insert analysis %s: %w", rec.Metadata.ID, err)
	}
	return nil
}

// Find returns the record with id.
func (s *Store) Find(ctx context.Context, id string) (analysis.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record_json FROM analyses WHERE id=?`, id)
	return scanRecord(row)
}

// FindByHash returns the most recent record for an audio digest.
func (s *Store) FindByHash(ctx context.Context, sha string) (analysis.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record_json FROM analyses WHERE audio_sha256=? ORDER BY processed_at DESC LIMIT 1`, sha)
	rec, err := scanRecord(row)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, ErrNotFound):
		return analysis.Record{}, false, nil
	default:
		return analysis.Record{}, false, err
	}
}

func scanRecord(row *sql.Row) (analysis.Record, error) {
	var payload string
	switch err := row.Scan(&payload); err {
	case nil:
	case sql.ErrNoRows:
		return analysis.Record{}, ErrNotFound
	default:
		return analysis.Record{}, err
	}
	var rec analysis.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return analysis.Record{}, fmt.Errorf("decode analysis: %w", err)
	}
	return rec, nil
}

// List returns the newest analyses first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, label, confidence, processed_at FROM analyses ORDER BY processed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Filename, &sum.Label, &sum.Confidence, &sum.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CountByLabel tallies stored analyses per category label.
func (s *Store) CountByLabel(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM analyses GROUP BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}

// MarkRecording upserts the status of a recording file.
func (s *Store) MarkRecording(ctx context.Context, filename, status, analysisID string, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO recordings(filename, status, analysis_id, last_error, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET status=excluded.status, analysis_id=excluded.analysis_id, last_error=excluded.last_error, updated_at=excluded.updated_at`,
		filename, status, analysisID, errMsg, ts)
	return err
}

// Recordings returns the status of every known recording.
func (s *Store) Recordings(ctx context.Context) (map[string]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, status, analysis_id, last_error, updated_at FROM recordings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Recording{}
	for rows.Next() {
		var r Recording
		var analysisID, errMsg sql.NullString
		if err := rows.Scan(&r.Filename, &r.Status, &analysisID, &errMsg, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.AnalysisID = analysisID.String
		if errMsg.Valid {
			r.LastError = &errMsg.String
		}
		out[r.Filename] = r
	}
	return out, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
