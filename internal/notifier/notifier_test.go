package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []store.BackupEntry
}

func (r *recordingSink) Notify(_ context.Context, _ store.ExpectedJob, e store.BackupEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestSubscriberForwardsAdverseDecisions(t *testing.T) {
	bus := eventbus.New()
	sink := &recordingSink{}
	NewSubscriber(bus, sink)

	bus.Publish(eventbus.TopicAdverse, eventbus.Decision{
		Job:       store.ExpectedJob{ID: "job1"},
		Entry:     store.BackupEntry{Status: store.EntryFailed},
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestSMTPDiscardsWhenUnconfigured(t *testing.T) {
	s := NewSMTP(SMTPConfig{})
	// Must not panic or block with no host/recipient configured.
	s.Notify(context.Background(), store.ExpectedJob{ID: "job1"}, store.BackupEntry{Status: store.EntryMissing})
}
