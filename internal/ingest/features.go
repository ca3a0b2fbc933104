package ingest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FeatureCount is the width of the vector the cell classifier was trained on.
const FeatureCount = 7

var idPrefixRE = regexp.MustCompile(`(?i)^B\d`)

// CellFeatures extracts the feature vector for one cell:
// [length, word count, has digit, id-code prefix, title case, all upper,
// alpha ratio]. The semantics must stay aligned with the training data,
// so lengths and ratios count runes, not bytes.
func CellFeatures(cell string) [FeatureCount]float64 {
	val := strings.TrimSpace(cell)

	length := utf8.RuneCountInString(val)
	wordCount := len(strings.Fields(val))

	hasDigit := 0.0
	if containsDigit(val) {
		hasDigit = 1
	}

	idPrefix := 0.0
	if idPrefixRE.MatchString(val) {
		idPrefix = 1
	}

	isTitle := 0.0
	if isTitleCase(val) {
		isTitle = 1
	}

	isUpper := 0.0
	if isAllUpper(val) {
		isUpper = 1
	}

	alphaCount := 0
	for _, r := range val {
		if unicode.IsLetter(r) {
			alphaCount++
		}
	}
	alphaRatio := 0.0
	if length > 0 {
		alphaRatio = float64(alphaCount) / float64(length)
	}

	return [FeatureCount]float64{
		float64(length),
		float64(wordCount),
		hasDigit,
		idPrefix,
		isTitle,
		isUpper,
		alphaRatio,
	}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// isTitleCase reports whether s is titlecased: uppercase letters may only
// start a run of cased characters and lowercase letters may only continue
// one, with at least one cased character overall.
func isTitleCase(s string) bool {
	cased := false
	prevCased := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) || unicode.IsTitle(r):
			if prevCased {
				return false
			}
			prevCased = true
			cased = true
		case unicode.IsLower(r):
			if !prevCased {
				return false
			}
			cased = true
		default:
			prevCased = false
		}
	}
	return cased
}

// isAllUpper reports whether s has at least one cased character and no
// lowercase ones.
func isAllUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}
