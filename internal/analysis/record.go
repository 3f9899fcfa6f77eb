// Package analysis turns one recording or transcript into an immutable
// analysis record.
package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"police_call_analytics/internal/classify"
	"police_call_analytics/internal/extract"
)

// Metadata describes where a record came from.
type Metadata struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ProcessedAt time.Time `json:"processed_at"`
	FileSize    string    `json:"file_size"`
	SizeBytes   int64     `json:"size_bytes"`
	Language    string    `json:"language"`
	AudioSHA256 string    `json:"audio_sha256,omitempty"`
	Warnings    []string  `json:"warnings"`
}

// Transcript holds the recognized text and its English translation.
type Transcript struct {
	Original      string `json:"original"`
	Translated    string `json:"translated"`
	WasTranslated bool   `json:"was_translated"`
}

// Record is the full result of analyzing one call.
type Record struct {
	Metadata       Metadata        `json:"metadata"`
	Transcript     Transcript      `json:"transcript"`
	Classification classify.Result `json:"classification"`
	Entities       extract.Result  `json:"entities"`
}

// Text is the transcript the engine worked on.
func (r Record) Text() string {
	if r.Transcript.Translated != "" {
		return r.Transcript.Translated
	}
	return r.Transcript.Original
}

// Degraded reports whether any collaborator failed while building r.
func (r Record) Degraded() bool { return len(r.Metadata.Warnings) > 0 }

// ReportFilename is the download name of a report generated at t.
func ReportFilename(t time.Time) string {
	return fmt.Sprintf("police_report_%s.json", t.Format("20060102_1504"))
}

// MarshalReport renders r as an indented JSON document.
func MarshalReport(r Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// HumanSize formats a byte count the way reports display it ("12.3 KB").
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
