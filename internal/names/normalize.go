package names

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// letterFolder collapses Arabic letter variants onto one representative.
// Tatweel is dropped.
var letterFolder = strings.NewReplacer(
	"أ", "ا", "إ", "ا", "آ", "ا", "ٱ", "ا",
	"ى", "ي", "ی", "ي",
	"ة", "ه",
	"ؤ", "و",
	"ئ", "ء",
	"ک", "ك",
	"ـ", "",
)

// Normalize produces the lookup key for a token:
// 1. Trim leading/trailing whitespace
// 2. Fold letter variants (hamza carriers, alef maqsura, ta marbuta, keheh)
// 3. Strip combining marks (tashkeel)
// 4. Lowercase
// 5. Collapse internal whitespace to single spaces
//
// Normalize is idempotent.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = letterFolder.Replace(s)

	// Transformers keep state, so build one per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}

	s = cases.Lower(language.Und).String(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")

	return s
}
