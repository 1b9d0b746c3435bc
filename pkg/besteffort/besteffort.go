// Package besteffort runs work whose failure must never reach the caller.
//
// Usage tracking, audit writes and nudge event logging go through a Runner so
// the "may silently fail" contract is visible at the call site: the functions
// return nothing, and every error or panic is logged and counted instead.
package besteffort

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/metrics"
)

// DefaultTimeout bounds detached operations started with Go.
const DefaultTimeout = 5 * time.Second

// Runner executes best-effort operations.
type Runner struct {
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Runner logging failures to logger.
func New(logger zerolog.Logger) *Runner {
	return &Runner{
		logger:  logger.With().Str("component", "besteffort").Logger(),
		timeout: DefaultTimeout,
	}
}

// Do runs fn synchronously and swallows its error.
func (r *Runner) Do(ctx context.Context, op string, fn func(context.Context) error) {
	r.run(ctx, op, fn)
}

// Go runs fn in the background on a context detached from ctx's
// cancellation, so a finished request does not abort its trailing writes.
func (r *Runner) Go(ctx context.Context, op string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runCtx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()
		r.run(runCtx, op, fn)
	}()
}

// Wait blocks until every operation started with Go has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, op string, fn func(context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			metrics.BestEffortFailures.WithLabelValues(op).Inc()
			r.logger.Error().Str("op", op).Str("panic", fmt.Sprint(p)).Msg("best-effort operation panicked")
		}
	}()
	if err := fn(ctx); err != nil {
		metrics.BestEffortFailures.WithLabelValues(op).Inc()
		r.logger.Warn().Err(err).Str("op", op).Msg("best-effort operation failed")
	}
}
