package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/extract"
)

func record(label string, weapons ...string) analysis.Record {
	entities := extract.EmptyResult()
	entities.Weapons = append(entities.Weapons, weapons...)
	entities.Locations = []string{"221 Baker St"}
	return analysis.Record{
		Metadata:       analysis.Metadata{ID: "r1", Filename: "call.mp3", ProcessedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		Transcript:     analysis.Transcript{Original: "he has a knife", Translated: "he has a knife"},
		Classification: classify.Result{Label: label, Confidence: 0.72},
		Entities:       entities,
	}
}

func TestShouldAlert(t *testing.T) {
	n := New(config.NotifyConfig{AlertCategories: []string{" kidnapping ", "Arson"}}, nil, nil)
	cases := []struct {
		name string
		rec  analysis.Record
		want bool
	}{
		{"weapon", record("Other", "knife"), true},
		{"alert category", record("Kidnapping"), true},
		{"quiet", record("Fraud"), false},
	}
	for _, tc := range cases {
		if got := n.ShouldAlert(tc.rec); got != tc.want {
			t.Fatalf("%s: ShouldAlert = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRunPostsAlerts(t *testing.T) {
	bodies := make(chan map[string]string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		bodies <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{GroupMeBotID: "bot-1", GroupMeURL: srv.URL}, srv.Client(), nil)
	events := make(chan any, 3)
	events <- "not a record"
	events <- record("Fraud")
	events <- record("Assault", "knife")
	close(events)
	n.Run(context.Background(), events)

	select {
	case body := <-bodies:
		if body["bot_id"] != "bot-1" {
			t.Fatalf("unexpected bot id %q", body["bot_id"])
		}
		if !strings.Contains(body["text"], "WEAPON REPORTED") || !strings.Contains(body["text"], "221 Baker Street") {
			t.Fatalf("unexpected alert text:\n%s", body["text"])
		}
	default:
		t.Fatalf("expected one alert")
	}
	if len(bodies) != 0 {
		t.Fatalf("only the weapon record should alert")
	}
}

func TestSendDisabledIsNoop(t *testing.T) {
	n := New(config.NotifyConfig{}, nil, nil)
	if n.Enabled() {
		t.Fatalf("expected disabled notifier")
	}
	if err := n.Send(context.Background(), Message{Text: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
