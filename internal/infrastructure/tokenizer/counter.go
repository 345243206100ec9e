package tokenizer

import (
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token usage for context budgeting. It uses a
// tiktoken encoding when available and falls back to a rune heuristic
// when the encoding data cannot be loaded (offline deployments).
type Counter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func New(encoding string) *Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Counter{encoding: encoding}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates BPE counts: roughly 4 ASCII characters
// per token, CJK closer to one token per rune.
func estimateTokens(text string) int {
	ascii := 0
	wide := 0
	for _, r := range text {
		if r > unicode.MaxASCII {
			wide++
		} else {
			ascii++
		}
	}
	tokens := ascii/4 + wide
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
