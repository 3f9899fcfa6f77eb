package formatting

import (
	"fmt"
	"strings"
	"time"
)

// CallAlert is the human-facing view of an analyzed call used for webhooks.
type CallAlert struct {
	ID         string
	Filename   string
	Category   string
	Confidence float64
	Locations  []string
	Times      []string
	Suspects   []string
	Weapons    []string
	Transcript string
	Timestamp  time.Time
	ReportURL  string
}

const maxAlertTranscript = 400

// FormatAlertHeader renders a concise alert header.
func FormatAlertHeader(alert CallAlert) string {
	category := strings.TrimSpace(alert.Category)
	if category == "" {
		category = "Other"
	}
	header := fmt.Sprintf("%s %s (%.0f%%)", categoryEmoji(category), category, alert.Confidence*100)
	if len(alert.Weapons) > 0 {
		header += " – WEAPON REPORTED"
	}
	return header
}

// FormatAlertLocation renders the extracted locations for display.
func FormatAlertLocation(alert CallAlert) string {
	if len(alert.Locations) == 0 {
		return "Location unavailable"
	}
	parts := make([]string, 0, len(alert.Locations))
	for _, loc := range alert.Locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			parts = append(parts, ExpandStreetSuffixes(loc))
		}
	}
	if len(parts) == 0 {
		return "Location unavailable"
	}
	return strings.Join(parts, "; ")
}

// BuildCallAlert constructs a GroupMe-friendly alert body.
func BuildCallAlert(alert CallAlert) string {
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	transcript := CollapseWhitespace(alert.Transcript)
	if transcript == "" {
		transcript = "Transcript unavailable."
	}
	if runes := []rune(transcript); len(runes) > maxAlertTranscript {
		transcript = string(runes[:maxAlertTranscript]) + "…"
	}

	lines := []string{
		FormatAlertHeader(alert),
		"",
		fmt.Sprintf("📍 Location: %s", FormatAlertLocation(alert)),
		fmt.Sprintf("🕒 Time: %s", ts.Format("2006-01-02 15:04:05")),
	}
	if len(alert.Times) > 0 {
		lines = append(lines, fmt.Sprintf("⏱️ Mentioned: %s", strings.Join(alert.Times, ", ")))
	}
	if len(alert.Suspects) > 0 {
		lines = append(lines, fmt.Sprintf("👤 Suspects: %s", strings.Join(alert.Suspects, ", ")))
	}
	if len(alert.Weapons) > 0 {
		lines = append(lines, fmt.Sprintf("🔪 Weapons: %s", strings.Join(alert.Weapons, ", ")))
	}
	lines = append(lines, "", "Transcript:", transcript)
	if url := strings.TrimSpace(alert.ReportURL); url != "" {
		lines = append(lines, "", fmt.Sprintf("📄 Report: %s", url))
	} else if name := strings.TrimSpace(alert.Filename); name != "" {
		lines = append(lines, "", fmt.Sprintf("🎧 Recording: %s", name))
	}
	return strings.Join(lines, "\n")
}
