package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// per-message overhead of the chat format
const tokensPerMessage = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// ApproxNumTokens counts text tokens, falling back to four characters per
// token when the encoder is unavailable.
func ApproxNumTokens(text string) int {
	enc, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

func ApproxNumTokensInMessages(messages []*Message) int {
	total := 0
	for _, message := range messages {
		total += tokensPerMessage + ApproxNumTokens(message.Content)
	}
	return total
}

// TruncateToTokens cuts text to at most maxTokens tokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc, err := getCodec()
	if err != nil {
		if len(text) > maxTokens*4 {
			return text[:maxTokens*4]
		}
		return text
	}
	ids, _, err := enc.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	truncated, err := enc.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return truncated
}
