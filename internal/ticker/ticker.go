// Package ticker drives one Reconciler pass per interval. At most one
// pass is ever in flight: because Run calls the pass synchronously
// inside the select loop, a slow pass simply delays the next tick
// rather than overlapping with it (spec.md §5 "skip-if-busy").
package ticker

import (
	"context"
	"log"
	"time"

	"github.com/backupwatch/server/internal/reconciler"
)

// Pass is the single operation a Ticker drives, satisfied by
// *reconciler.Reconciler.
type Pass interface {
	Run(ctx context.Context) (reconciler.Result, error)
}

// Ticker periodically invokes a Pass, skipping a tick if the previous
// pass is still running.
type Ticker struct {
	interval time.Duration
	pass     Pass
	busy     chan struct{} // capacity-1 semaphore
}

// New returns a Ticker that calls pass every interval.
func New(interval time.Duration, pass Pass) *Ticker {
	t := &Ticker{interval: interval, pass: pass, busy: make(chan struct{}, 1)}
	t.busy <- struct{}{}
	return t
}

// Run blocks, firing one pass per interval until ctx is cancelled. The
// first pass runs immediately, matching the teacher's poller startup
// behavior of not waiting a full interval before the first tick.
func (t *Ticker) Run(ctx context.Context) {
	log.Printf("[ticker] starting (interval: %s)", t.interval)

	t.tick(ctx)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[ticker] stopping")
			return
		case <-tk.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	select {
	case <-t.busy:
	default:
		log.Printf("[ticker] previous pass still running, skipping this tick")
		return
	}
	defer func() { t.busy <- struct{}{} }()

	start := time.Now()
	res, err := t.pass.Run(ctx)
	if err != nil {
		log.Printf("[ticker] pass failed after %s: %v", time.Since(start), err)
		return
	}
	log.Printf("[ticker] pass completed in %s: parsed=%d rejected=%d entries=%d archived=%d archive_failures=%d",
		time.Since(start), res.ReportsParsed, res.ReportsRejected, res.EntriesAppended, res.Archived, res.ArchiveFailures)
}
