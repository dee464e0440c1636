// Package names extracts, normalizes and scores character-name tokens.
package names

import (
	"regexp"
	"strings"
	"unicode"
)

// delimitedSpan matches one *...* span with non-empty content.
var delimitedSpan = regexp.MustCompile(`\*([^*]+)\*`)

// tournamentVocab flags versus/competition wording in either script.
var tournamentVocab = regexp.MustCompile(`(?i)تورنير|مسابقة|بطولة|مباراة|tournament|match|ضد|vs|versus|/|\|`)

// separators are split points in addition to whitespace.
const separators = "/-|,;:،؛"

// pictographRanges are decorative symbol blocks replaced by a space.
var pictographRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols & pictographs
	{0x1F680, 0x1F6FF}, // transport & map
	{0x1F1E0, 0x1F1FF}, // regional indicators
	{0x2600, 0x26FF},   // misc symbols
	{0x2700, 0x27BF},   // dingbats
	{0xFE0F, 0xFE0F},   // variation selector-16
	{0x200D, 0x200D},   // zero width joiner
}

// Extract returns the space-joined content of every *...* span in raw, with
// pictographs replaced by spaces and whitespace collapsed. Returns "" when raw
// has no delimited span.
func Extract(raw string) string {
	matches := delimitedSpan.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return ""
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m[1])
	}

	cleaned := stripPictographs(strings.Join(parts, " "))
	cleaned = whitespaceRegex.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// Tokenize splits cleaned text on whitespace and separator characters,
// dropping empty fragments and keeping left-to-right order.
func Tokenize(cleaned string) []string {
	return strings.FieldsFunc(cleaned, isSeparator)
}

// IsTournament reports whether delimited content reads like a match-up: it
// contains competition vocabulary or splits into two or more tokens.
func IsTournament(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	return tournamentVocab.MatchString(content) || len(Tokenize(content)) >= 2
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(separators, r)
}

func stripPictographs(s string) string {
	return strings.Map(func(r rune) rune {
		if isPictograph(r) {
			return ' '
		}
		return r
	}, s)
}

func isPictograph(r rune) bool {
	for _, rg := range pictographRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}
