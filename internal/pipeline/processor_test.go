package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/backfill"
	"police_call_analytics/internal/queue"
	"police_call_analytics/internal/store"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	seen  map[string][]byte
	err   error
	calls chan string
}

func (f *fakeAnalyzer) AnalyzeAudio(ctx context.Context, filename string, audio []byte) (analysis.Record, error) {
	f.mu.Lock()
	if f.seen == nil {
		f.seen = map[string][]byte{}
	}
	f.seen[filename] = audio
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- filename
	}
	rec := analysis.Record{Metadata: analysis.Metadata{ID: "id-" + filename, Filename: filename}}
	return rec, f.err
}

type fixture struct {
	recordings string
	work       string
	store      *store.Store
	queue      *queue.Queue
	analyzer   *fakeAnalyzer
	proc       *Processor
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		recordings: filepath.Join(root, "recordings"),
		work:       filepath.Join(root, "work"),
		analyzer:   &fakeAnalyzer{calls: make(chan string, 8)},
	}
	if err := os.MkdirAll(f.recordings, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(filepath.Join(root, "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	f.store = st
	f.queue = queue.New(4, 1, time.Second, nil, nil)
	f.proc = NewProcessor(Options{RecordingsDir: f.recordings, WorkDir: f.work, MaxBytes: maxBytes}, f.analyzer, st, f.queue, nil)
	return f
}

func (f *fixture) write(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.recordings, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessIngestsAndMarksDone(t *testing.T) {
	f := newFixture(t, 0)
	f.write(t, "call.mp3", "audio-bytes")

	rec, err := f.proc.Process(context.Background(), "call.mp3")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if string(f.analyzer.seen["call.mp3"]) != "audio-bytes" {
		t.Fatalf("analyzer got wrong audio")
	}
	if _, err := os.Stat(filepath.Join(f.work, "call.mp3")); err != nil {
		t.Fatalf("expected ingest copy in work dir: %v", err)
	}
	recs, err := f.store.Recordings(context.Background())
	if err != nil {
		t.Fatalf("recordings: %v", err)
	}
	if got := recs["call.mp3"]; got.Status != store.StatusDone || got.AnalysisID != rec.Metadata.ID {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestProcessRejectsOversizedRecording(t *testing.T) {
	f := newFixture(t, 4)
	f.write(t, "big.wav", "too many bytes")

	if _, err := f.proc.Process(context.Background(), "big.wav"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	recs, _ := f.store.Recordings(context.Background())
	if got := recs["big.wav"]; got.Status != store.StatusError || got.LastError == nil {
		t.Fatalf("expected error status, got %+v", got)
	}
}

func TestSubmitRunsOnQueue(t *testing.T) {
	f := newFixture(t, 0)
	f.write(t, "queued.ogg", "x")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.queue.Start(ctx)

	if !f.proc.Submit(ctx, "queued.ogg") {
		t.Fatalf("submit rejected")
	}
	select {
	case name := <-f.analyzer.calls:
		if name != "queued.ogg" {
			t.Fatalf("unexpected analysis of %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued recording never analyzed")
	}
	f.queue.Stop(context.Background())
}

func TestListCandidatesForBackfill(t *testing.T) {
	f := newFixture(t, 0)
	f.write(t, "a.mp3", "a")
	f.write(t, "b.wav", "b")
	f.write(t, "readme.txt", "ignored")
	if err := f.store.MarkRecording(context.Background(), "a.mp3", store.StatusDone, "id-a", nil, time.Now()); err != nil {
		t.Fatal(err)
	}

	cands, err := f.proc.ListCandidates(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	status := map[string]string{}
	for _, c := range cands {
		status[c.Filename] = c.Status
	}
	if len(status) != 2 || status["a.mp3"] != backfill.StatusDone || status["b.wav"] != "" {
		t.Fatalf("unexpected candidates %v", status)
	}

	pending, _ := backfill.SelectPending(cands, 10)
	if len(pending) != 1 || pending[0].Filename != "b.wav" {
		t.Fatalf("expected only b.wav pending, got %+v", pending)
	}
}

func TestIsAudio(t *testing.T) {
	cases := map[string]bool{"a.mp3": true, "b.WAV": true, "c.m4a": true, "d.flac": true, "e.txt": false, "noext": false}
	for name, want := range cases {
		if got := IsAudio(name); got != want {
			t.Fatalf("IsAudio(%q) = %v, want %v", name, got, want)
		}
	}
}
