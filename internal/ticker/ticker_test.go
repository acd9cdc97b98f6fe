package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/backupwatch/server/internal/reconciler"
)

type countingPass struct {
	calls   int64
	delay   time.Duration
}

func (c *countingPass) Run(ctx context.Context) (reconciler.Result, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
		}
	}
	return reconciler.Result{}, nil
}

func TestTickerRunsImmediatelyThenPeriodically(t *testing.T) {
	pass := &countingPass{}
	tk := New(20*time.Millisecond, pass)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	tk.Run(ctx)

	calls := atomic.LoadInt64(&pass.calls)
	require.GreaterOrEqual(t, calls, int64(3))
}

func TestTickerSkipsWhenBusy(t *testing.T) {
	pass := &countingPass{delay: 100 * time.Millisecond}
	tk := New(10*time.Millisecond, pass)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	tk.Run(ctx)

	// Within 60ms, a 100ms-long first pass must prevent any overlap:
	// only the initial synchronous call should have started.
	calls := atomic.LoadInt64(&pass.calls)
	require.Equal(t, int64(1), calls)
}
