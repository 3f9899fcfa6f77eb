package formatting

import "strings"

// CategoryGroup maps a crime category onto a coarse group used for alert styling.
func CategoryGroup(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "assault", "robbery", "kidnapping":
		return "violent"
	case "burglary", "vandalism", "arson":
		return "property"
	case "fraud", "cybercrime":
		return "financial"
	case "drugoffense", "drug offense":
		return "narcotics"
	case "harassment":
		return "harassment"
	default:
		return "other"
	}
}

func categoryEmoji(category string) string {
	switch CategoryGroup(category) {
	case "violent":
		return "🚨"
	case "property":
		if strings.EqualFold(strings.TrimSpace(category), "arson") {
			return "🔥"
		}
		return "🏚️"
	case "financial":
		return "💳"
	case "narcotics":
		return "💊"
	case "harassment":
		return "⚠️"
	default:
		return "📞"
	}
}
