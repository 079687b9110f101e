package reconcile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// kanaVariants maps the small-kana spellings that manual transcription uses
// interchangeably with their full-size forms (市ヶ谷 vs 市ケ谷 and friends).
var kanaVariants = strings.NewReplacer(
	"ヶ", "ケ",
	"ヵ", "カ",
	"ゖ", "け",
	"ゕ", "か",
)

// NormalizeName canonicalizes a manually transcribed place name for matching:
// NFKC folds half-width katakana, full-width latin and combining voiced
// marks; spaces of either width are collapsed away; small-kana variants are
// unified. The result is a match key, not a display string.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return kanaVariants.Replace(strings.TrimSpace(s))
}

// MatchKey builds the fallback resolution key for candidates without a JIS
// code.
func MatchKey(prefecture, municipality string) string {
	return NormalizeName(prefecture) + "|" + NormalizeName(municipality)
}
