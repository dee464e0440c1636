package names

import (
	"strings"
	"unicode/utf8"
)

// Candidate threshold and length window.
const (
	CandidateThreshold = 0.6
	MinTokenRunes      = 4
	MaxTokenRunes      = 10
)

// Classification is the heuristic verdict for one normalized token.
type Classification struct {
	IsCandidate bool    `json:"is_candidate"`
	Confidence  float64 `json:"confidence"`
}

var stopWords = normalizedSet(
	"في", "من", "الى", "على", "عن", "كيف", "متى", "اين", "ماذا", "هذا", "هذه", "ذلك", "تلك", "التي", "الذي",
	"عند", "مع", "حول", "بين", "خلف", "امام", "فوق", "تحت", "داخل", "خارج", "قبل", "بعد", "خلال", "اثناء",
	"هنا", "هناك", "حيث", "لماذا",
	"the", "and", "or", "in", "on", "at", "to", "for", "of", "with", "by", "from", "into", "through", "during",
)

var nonNames = normalizedSet(
	"اسم", "هذا", "هذه", "ذلك", "تلك", "التي", "الذي", "عند", "مع", "في", "من", "الى", "على",
	"كيف", "متى", "اين", "ماذا", "هنا", "هناك", "حيث", "لماذا", "كذا", "كذلك", "ايضا",
)

// stopFragments penalize tokens that merely contain a function word.
var stopFragments = normalizedList(
	"هذا", "هذه", "ذلك", "تلك", "التي", "الذي", "عند", "مع", "في", "من", "الى", "على",
	"كيف", "متى", "اين", "ماذا", "اسم",
)

var nameSuffixes = []string{"كو", "كي", "تو", "رو", "مي", "ري"}
var nameInfixes = []string{"سا", "نا", "يو", "شي"}

// Classify scores a normalized token as a plausible character name.
func Classify(token string) Classification {
	reject := Classification{}

	if token == "" || !allArabicLetters(token) || isNumeric(token) || stopWords[token] {
		return reject
	}

	length := utf8.RuneCountInString(token)
	if length < MinTokenRunes || length > MaxTokenRunes {
		return reject
	}

	if nonNames[token] {
		return reject
	}

	score := 0.0

	if hasAnySuffix(token, nameSuffixes) || containsAny(token, nameInfixes) {
		score += 0.7
	}
	if length >= 4 && length <= 8 {
		// pure-alphabet pattern; the alphabet check above already holds
		score += 0.5
	}
	if hasAnySuffix(token, []string{"ه", "ة", "ي", "و", "ا"}) {
		score += 0.6
	}
	if length >= 4 && length <= 8 {
		score += 0.5
	}

	ratio := float64(length-countVowels(token)) / float64(length)
	if ratio >= 0.4 && ratio <= 0.7 {
		score += 0.4
	}

	if hasTripledRune(token) {
		score -= 0.5
	}
	if containsAny(token, stopFragments) {
		score -= 0.8
	}
	if length >= 4 && length <= 6 && !stopWords[token] {
		score += 0.3
	}

	confidence := clamp(score, 0, 1)
	return Classification{
		IsCandidate: confidence > CandidateThreshold,
		Confidence:  confidence,
	}
}

func allArabicLetters(s string) bool {
	for _, r := range s {
		if r < 'ا' || r > 'ي' {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func countVowels(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case 'ا', 'و', 'ي':
			n++
		}
	}
	return n
}

func hasTripledRune(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= 3 {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizedSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[Normalize(w)] = true
	}
	return set
}

func normalizedList(words ...string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, Normalize(w))
	}
	return out
}
