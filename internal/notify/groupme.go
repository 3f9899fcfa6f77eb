// Package notify posts GroupMe alerts for analyses that need attention.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"police_call_analytics/internal/analysis"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/formatting"
	"police_call_analytics/internal/logging"
)

// Message represents outbound alert.
type Message struct {
	Text string `json:"text"`
}

// Notifier sends an alert when a record reports a weapon or lands in one of
// the alert categories.
type Notifier struct {
	botID      string
	url        string
	categories map[string]struct{}
	client     *http.Client
	logger     *slog.Logger
}

// New builds a notifier from cfg. A nil client uses a 10s timeout client.
func New(cfg config.NotifyConfig, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cats := make(map[string]struct{}, len(cfg.AlertCategories))
	for _, c := range cfg.AlertCategories {
		if c = strings.TrimSpace(c); c != "" {
			cats[strings.ToLower(c)] = struct{}{}
		}
	}
	return &Notifier{
		botID:      cfg.GroupMeBotID,
		url:        cfg.GroupMeURL,
		categories: cats,
		client:     client,
		logger:     logging.OrDiscard(logger).With("component", "notify"),
	}
}

// Enabled reports whether a bot is configured.
func (n *Notifier) Enabled() bool { return n.botID != "" && n.url != "" }

// ShouldAlert reports whether rec warrants an alert.
func (n *Notifier) ShouldAlert(rec analysis.Record) bool {
	if len(rec.Entities.Weapons) > 0 {
		return true
	}
	_, ok := n.categories[strings.ToLower(rec.Classification.Label)]
	return ok
}

// Alert renders the alert body for rec.
func Alert(rec analysis.Record) Message {
	return Message{Text: formatting.BuildCallAlert(formatting.CallAlert{
		ID:         rec.Metadata.ID,
		Filename:   rec.Metadata.Filename,
		Category:   rec.Classification.Label,
		Confidence: rec.Classification.Confidence,
		Locations:  rec.Entities.Locations,
		Times:      rec.Entities.Times,
		Suspects:   rec.Entities.Suspects,
		Weapons:    rec.Entities.Weapons,
		Transcript: rec.Text(),
		Timestamp:  rec.Metadata.ProcessedAt,
	})}
}

// Run sends alerts for records published on events until it closes or ctx
// is done.
func (n *Notifier) Run(ctx context.Context, events <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			rec, isRecord := ev.(analysis.Record)
			if !isRecord || !n.ShouldAlert(rec) {
				continue
			}
			if err := n.Send(ctx, Alert(rec)); err != nil {
				n.logger.Warn("alert not delivered", "id", rec.Metadata.ID, "err", err)
			}
		}
	}
}

// Send posts msg to the GroupMe bot if configured.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	payload := map[string]string{"text": msg.Text, "bot_id": n.botID}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("groupme status %d", resp.StatusCode)
	}
	n.logger.Info("alert sent", "bytes", len(msg.Text))
	return nil
}
