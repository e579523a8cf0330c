package types

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer counts tokens with a real BPE encoding. Encoding
// data loads lazily on first use; if loading fails the tokenizer falls
// back to the character estimate so budget enforcement keeps working.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	fallback *EstimateTokenizer
	once     sync.Once
}

// NewTiktokenTokenizer creates a tokenizer for the given encoding name.
// Empty encoding defaults to cl100k_base.
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		fallback: NewEstimateTokenizer(),
	}
}

// CountTokens counts tokens in text.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
