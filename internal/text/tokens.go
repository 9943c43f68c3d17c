package text

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts BPE tokens. The encoding is loaded on first use
// (it may need a download); until then, or if loading fails, counts come
// from EstimateTokens.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, estimating tokens", "encoding", t.encoding, "error", err)
			return
		}
		t.enc = enc
	})
}

func (t *TiktokenCounter) CountTokens(text string) int {
	t.init()
	if t.enc == nil {
		return EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates 4 characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}
