package router

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// TokenCounter estimates the number of tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates tokens as four thirds of the word count, or a
// quarter of the byte length when that is larger.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := len(strings.Fields(text))
	byWords := (words*4 + 2) / 3
	byBytes := (len(text) + 3) / 4
	return max(byWords, byBytes)
}

// TiktokenCounter counts cl100k_base tokens. The encoder is loaded on first
// use; if it cannot be loaded (the vocabulary is fetched over the network
// unless cached) the heuristic is used instead.
type TiktokenCounter struct {
	logger zerolog.Logger
	once   sync.Once
	enc    *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a lazily initialised tiktoken counter.
func NewTiktokenCounter(logger zerolog.Logger) *TiktokenCounter {
	return &TiktokenCounter{logger: logger}
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn().Err(err).Msg("tiktoken unavailable, using heuristic token estimates")
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(c.enc.EncodeOrdinary(text))
}

// NewTokenCounter returns the counter named by the router configuration.
func NewTokenCounter(name string, logger zerolog.Logger) TokenCounter {
	if strings.EqualFold(name, "tiktoken") {
		return NewTiktokenCounter(logger)
	}
	return HeuristicCounter{}
}
