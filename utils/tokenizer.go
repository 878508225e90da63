package utils

import (
	"github.com/wbrown/gpt_bpe"
	"sync"
)

var encoderOnce sync.Once
var encoder gpt_bpe.GPTEncoder

func gpt2Encoder() *gpt_bpe.GPTEncoder {
	encoderOnce.Do(func() {
		encoder = gpt_bpe.NewGPT2Encoder()
	})
	return &encoder
}

func CountTokens(s string) int {
	tokens := gpt2Encoder().Encode(&s)
	return len(*tokens)
}

// SplitByTokens cuts s into pieces of at most window tokens each,
// decoded back to text. The last piece may be shorter.
func SplitByTokens(s string, window int) []string {
	tokenizer := gpt2Encoder()
	tokens := *tokenizer.Encode(&s)
	if len(tokens) == 0 {
		return nil
	}

	pieces := make([]string, 0, len(tokens)/window+1)
	for start := 0; start < len(tokens); start += window {
		end := start + window
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := gpt_bpe.Tokens(tokens[start:end])
		pieces = append(pieces, tokenizer.Decode(&chunk))
	}

	return pieces
}
