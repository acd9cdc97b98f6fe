// Package eventbus decouples the reconciler's decisions from whatever
// consumes them (the notifier, a live status feed) so that a slow or
// failing subscriber can never slow down or abort a scan pass
// (spec.md §4.9, §5).
package eventbus

import (
	"sync"
	"time"

	"github.com/backupwatch/server/internal/store"
)

// Decision is published once per non-SUCCESS Backup Entry the
// reconciler commits, plus (for the live feed) every entry regardless
// of status.
type Decision struct {
	Job       store.ExpectedJob
	Entry     store.BackupEntry
	Timestamp time.Time
}

// Bus is an in-process pub/sub router. It is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Decision
	closed      bool
}

// Topic names published on the bus.
const (
	TopicAdverse = "adverse"  // non-SUCCESS decisions, routed to the notifier
	TopicAll     = "all"      // every decision, routed to the live feed
)

// New creates a Bus ready for use.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]chan<- Decision)}
}

// Subscribe registers ch to receive Decisions published under topic.
// The caller owns ch's buffering; a full channel causes that publish to
// be dropped for this subscriber rather than block the publisher.
func (b *Bus) Subscribe(topic string, ch chan<- Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
}

// Publish fans d out to every subscriber of topic. Never blocks.
func (b *Bus) Publish(topic string, d Decision) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- d:
		default:
			// Slow subscriber: drop rather than stall the reconciler.
		}
	}
}

// Close marks the bus closed; further Publish calls are no-ops. Close
// does not close subscriber channels — that remains the caller's job.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
