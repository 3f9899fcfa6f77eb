package formatting

import (
	"regexp"
	"strings"
)

// \s is ASCII only; \p{Zs} adds no-break and other Unicode spaces.
var whitespacePattern = regexp.MustCompile(`[\s\p{Zs}]+`)

var streetSuffixes = map[string]string{
	"rd":     "Road",
	"rd.":    "Road",
	"road":   "Road",
	"st":     "Street",
	"st.":    "Street",
	"street": "Street",
	"ave":    "Avenue",
	"ave.":   "Avenue",
	"avenue": "Avenue",
	"blvd":   "Boulevard",
	"blvd.":  "Boulevard",
	"ln":     "Lane",
	"ln.":    "Lane",
	"dr":     "Drive",
	"dr.":    "Drive",
}

var suffixPattern = regexp.MustCompile(`(?i)\b([A-Za-z0-9]+)(?:\s+)(` + streetSuffixAlternation() + `)(?:\s|$)`)

// CollapseWhitespace trims s and folds every whitespace run into one space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// FoldKey is the comparison key for entity and cache deduplication.
func FoldKey(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}

// NormalizeTranscript cleans a transcript before extraction and classification.
// Content is preserved; only surrounding and repeated whitespace changes.
func NormalizeTranscript(raw string) string {
	return CollapseWhitespace(raw)
}

// ExpandStreetSuffixes rewrites abbreviated street types ("st", "ave") to their
// long form for display.
func ExpandStreetSuffixes(text string) string {
	return suffixPattern.ReplaceAllStringFunc(text, func(match string) string {
		trailing := ""
		if strings.HasSuffix(match, " ") {
			trailing = " "
		}
		parts := strings.Fields(match)
		if len(parts) < 2 {
			return match
		}
		suffix := strings.ToLower(parts[len(parts)-1])
		replacement, ok := streetSuffixes[suffix]
		if !ok {
			return match
		}
		parts[len(parts)-1] = replacement
		return strings.Join(parts, " ") + trailing
	})
}

func streetSuffixAlternation() string {
	keys := make([]string, 0, len(streetSuffixes))
	for k := range streetSuffixes {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	return strings.Join(keys, "|")
}
