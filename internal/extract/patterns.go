package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// "1330 Alpha Sayo Day", "221 Baker street"
	addressPattern = regexp.MustCompile(`\b\d{3,4}(?:\s+[A-Z][A-Za-z'\-]*)+(?:\s+(?i:street|st|avenue|ave|road|rd)\b)?`)

	// "at Pete's coffee", "in the Corner Market"
	businessPattern = regexp.MustCompile(`\b(?i:at|in)\s+(?:(?i:the)\s+)?([A-Z][A-Za-z0-9'&]*(?:\s+[A-Za-z0-9'&]+){0,4}?\s+(?i:store|shop|coffee|bar|restaurant|market))\b`)

	relativeTimePattern = regexp.MustCompile(`(?i)\b(?:right\s+now|currently|at\s+this\s+time|just\s+now)\b`)

	clockTimePattern = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?:\s*(?:AM|PM)\b)?`)

	suspectDescriptionPattern = regexp.MustCompile(`(?i)\b(white|black|hispanic|asian)\s+(male|female)\b(?:\s+(?:about|approximately|around)?\s*(\d{2})\b)?`)

	// The role keyword is case-insensitive; the name must be capitalized.
	suspectNamePattern = regexp.MustCompile(`\b(?i:suspect|shooter|attacker|perpetrator|intruder)s?\s+(?:(?i:is|was|named|called)\s+)?([A-Z][a-z]+)\b`)

	clothingPattern = regexp.MustCompile(`(?i)\b(?:wearing|has)\s+(?:an?\s+)?([a-z]+\s+(?:hat|jacket|shirt|sweater))\b`)

	weaponPhrasePattern = regexp.MustCompile(`(?i)\b(?:has|with|pulled\s+out|brandishing|wielding|shot\s+with)\s+(?:an?\s+)?(gun|knife|weapon|firearm|pistol|rifle|handgun)\b`)
)

var streetTypes = map[string]struct{}{
	"street": {}, "st": {}, "avenue": {}, "ave": {}, "road": {}, "rd": {},
}

// Capitalized words that follow a role keyword but are not names.
var notNames = map[string]struct{}{
	"He": {}, "She": {}, "They": {}, "The": {}, "This": {}, "That": {},
	"Is": {}, "Was": {}, "Has": {}, "Had": {}, "And": {}, "Then": {},
}

var weaponKeywords = map[string][]string{
	"en": {
		"knife", "knives", "blade", "razor",
		"gun", "firearm", "pistol", "revolver", "rifle", "shotgun",
		"bat", "club", "hammer", "crowbar",
		"explosive", "bomb", "grenade",
	},
	"es": {"cuchillo", "navaja", "pistola", "revólver"},
	"fr": {"couteau", "pistolet", "revolver"},
}

func builtinRules() []Rule {
	return []Rule{
		{Name: "address", Slot: SlotLocations, Match: matchAddresses},
		{Name: "business", Slot: SlotLocations, Match: matchAll(businessPattern, 1, nil)},
		{Name: "relative-time", Slot: SlotTimes, Match: matchAll(relativeTimePattern, 0, strings.ToLower)},
		{Name: "clock-time", Slot: SlotTimes, Match: matchAll(clockTimePattern, 0, strings.ToUpper)},
		{Name: "suspect-description", Slot: SlotSuspects, Match: matchSuspectDescriptions},
		{Name: "suspect-name", Slot: SlotSuspects, Match: matchSuspectNames},
		{Name: "clothing", Slot: SlotSuspects, Match: matchAll(clothingPattern, 1, func(s string) string {
			return "wearing " + strings.ToLower(s)
		})},
		{Name: "weapon-phrase", Slot: SlotWeapons, Match: matchAll(weaponPhrasePattern, 1, strings.ToLower)},
	}
}

// WeaponKeywordRule matches standalone weapon nouns in the given languages.
// Unknown languages fall back to English.
func WeaponKeywordRule(languages ...string) Rule {
	seen := map[string]struct{}{}
	var words []string
	for _, lang := range languages {
		list, ok := weaponKeywords[strings.ToLower(strings.TrimSpace(lang))]
		if !ok {
			list = weaponKeywords["en"]
		}
		for _, w := range list {
			if _, dup := seen[w]; !dup {
				seen[w] = struct{}{}
				words = append(words, regexp.QuoteMeta(w))
			}
		}
	}
	// Longest first so "knives" wins over a shorter prefix.
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	pattern := regexp.MustCompile(fmt.Sprintf(`(?i)\b(%s)\b`, strings.Join(words, "|")))
	return Rule{Name: "weapon-keyword", Slot: SlotWeapons, Match: matchAll(pattern, 1, strings.ToLower)}
}

// matchAll returns capture group of every match, optionally transformed.
func matchAll(re *regexp.Regexp, group int, transform func(string) string) MatchFunc {
	return func(text string) []string {
		var out []string
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if group >= len(m) {
				continue
			}
			v := strings.TrimSpace(m[group])
			if v == "" {
				continue
			}
			if transform != nil {
				v = transform(v)
			}
			out = append(out, v)
		}
		return out
	}
}

// matchAddresses ends each address at its first street-type token. The
// capitalized-word run would otherwise carry on into the next sentence.
func matchAddresses(text string) []string {
	var out []string
	for _, m := range addressPattern.FindAllString(text, -1) {
		words := strings.Fields(m)
		for i := 2; i < len(words); i++ {
			if _, ok := streetTypes[strings.ToLower(words[i])]; ok {
				words = words[:i+1]
				break
			}
		}
		out = append(out, strings.Join(words, " "))
	}
	return out
}

func matchSuspectDescriptions(text string) []string {
	var out []string
	for _, m := range suspectDescriptionPattern.FindAllStringSubmatch(text, -1) {
		desc := strings.ToLower(m[1]) + " " + strings.ToLower(m[2])
		if m[3] != "" {
			desc += " ~" + m[3]
		}
		out = append(out, desc)
	}
	return out
}

func matchSuspectNames(text string) []string {
	var out []string
	for _, m := range suspectNamePattern.FindAllStringSubmatch(text, -1) {
		if _, skip := notNames[m[1]]; skip {
			continue
		}
		out = append(out, m[1])
	}
	return out
}
