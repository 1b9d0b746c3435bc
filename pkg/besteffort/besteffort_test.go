package besteffort

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDoSwallowsErrorAndLogs(t *testing.T) {
	var buf bytes.Buffer
	r := New(zerolog.New(&buf))

	ran := false
	r.Do(context.Background(), "write usage", func(context.Context) error {
		ran = true
		return errors.New("disk full")
	})

	assert.True(t, ran)
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), `"op":"write usage"`)
}

func TestDoRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	r := New(zerolog.New(&buf))

	assert.NotPanics(t, func() {
		r.Do(context.Background(), "audit", func(context.Context) error { panic("nil map") })
	})
	assert.Contains(t, buf.String(), "nil map")
}

func TestGoIsDetachedFromCancellation(t *testing.T) {
	r := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var canceled, hasDeadline atomic.Bool
	r.Go(ctx, "track", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hasDeadline.Store(ok)
		canceled.Store(ctx.Err() != nil)
		return nil
	})
	r.Wait()

	assert.True(t, hasDeadline.Load())
	assert.False(t, canceled.Load())
}

func TestWaitCoversAllDetachedWork(t *testing.T) {
	r := New(zerolog.Nop())
	var n atomic.Int64
	for range 20 {
		r.Go(context.Background(), "count", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}
	r.Wait()
	assert.EqualValues(t, 20, n.Load())
}
