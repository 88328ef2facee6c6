package session

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures completion length with a fixed tokenizer so that
// numbers stay comparable across backend channels regardless of which
// provider served the request.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter over the cl100k_base encoding.
func NewTokenCounter() (TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &tiktokenCounter{encoding: encoding}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
