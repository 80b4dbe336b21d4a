package chunker

import "unicode/utf8"

// CharsPerToken is the fixed ratio used for every size estimate in this package.
const CharsPerToken = 4

// EstimateTokens approximates a token count as rune length / 4.
// Exact tokenization is not required for boundary decisions.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}
