package governor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/governor/pkg/router"
)

// Completion is one model invocation requested by the Service.
type Completion struct {
	Model     string
	Message   string
	Page      string
	MaxTokens int
}

// CompletionResult is a provider answer with its token usage.
type CompletionResult struct {
	ID           string
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider executes completions against a model backend.
type Provider interface {
	Complete(ctx context.Context, c Completion) (CompletionResult, error)
}

// SimulatedProvider answers without calling any backend. Token counts come
// from a TokenCounter so ledger costs look like real traffic.
type SimulatedProvider struct {
	counter router.TokenCounter
	delay   time.Duration
}

// NewSimulatedProvider creates a SimulatedProvider that waits delay before answering.
func NewSimulatedProvider(counter router.TokenCounter, delay time.Duration) *SimulatedProvider {
	if counter == nil {
		counter = router.HeuristicCounter{}
	}
	return &SimulatedProvider{counter: counter, delay: delay}
}

// Complete returns a canned answer for c.
func (p *SimulatedProvider) Complete(ctx context.Context, c Completion) (CompletionResult, error) {
	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return CompletionResult{}, ctx.Err()
		case <-t.C:
		}
	}

	text := fmt.Sprintf("(%s) Here is what I found about %q", c.Model, strings.TrimSpace(c.Message))
	if c.Page != "" {
		text += fmt.Sprintf(" on the %s page", c.Page)
	}
	text += "."

	out := p.counter.Count(text)
	if c.MaxTokens > 0 && out > c.MaxTokens {
		out = c.MaxTokens
	}
	return CompletionResult{
		ID:           "sim-" + uuid.NewString(),
		Text:         text,
		Model:        c.Model,
		InputTokens:  p.counter.Count(c.Message),
		OutputTokens: out,
	}, nil
}
