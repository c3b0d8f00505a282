package pipeline

import "strings"

// Normalize applies the single extraction rule: lowercase the raw
// content. Punctuation and markup are kept as-is.
func Normalize(raw string) string {
	return strings.ToLower(raw)
}

// Tokenize splits text on whitespace, preserving token order. Indexing
// and query parsing share it so both sides agree on term boundaries.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// BuildTermPositions maps each term to the ordered list of zero-based
// token offsets at which it occurs.
func BuildTermPositions(tokens []string) map[string][]int {
	positions := make(map[string][]int)
	for i, token := range tokens {
		positions[token] = append(positions[token], i)
	}
	return positions
}
