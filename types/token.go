package types

import "unicode/utf8"

// Ellipsis marks truncated text.
const Ellipsis = "..."

// charsPerToken is the estimation ratio used for budget math.
const charsPerToken = 4

// Tokenizer counts tokens in text. Counting is pure computation and
// never blocks.
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimateTokenizer approximates tokens at ~4 characters per token.
type EstimateTokenizer struct{}

// NewEstimateTokenizer creates the default character-based tokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{}
}

// CountTokens counts tokens in text. Empty text is zero tokens;
// any non-empty text counts at least one.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// TruncateToTokens cuts text so tok counts at most maxTokens, appending
// the ellipsis marker when anything was removed. The cut lands at the
// rune boundary nearest the character limit. A non-positive budget
// yields the empty string.
func TruncateToTokens(tok Tokenizer, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tok.CountTokens(text) <= maxTokens {
		return text
	}

	maxChars := maxTokens * charsPerToken
	if maxChars <= len(Ellipsis) {
		return ""
	}

	cut := cutAtRune(text, maxChars-len(Ellipsis))
	out := cut + Ellipsis

	// Exact tokenizers may still count over the estimate; tighten.
	for tok.CountTokens(out) > maxTokens && len(cut) > 0 {
		cut = cutAtRune(cut, len(cut)-charsPerToken)
		out = cut + Ellipsis
	}
	if len(cut) == 0 {
		return ""
	}
	return out
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
