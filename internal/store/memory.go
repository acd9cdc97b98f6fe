package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store implementation for tests. It is NOT
// durable and has no use outside tests and local development, mirroring
// the pack's impl_inmem convention: a parallel, dependency-free
// implementation of every persistence interface the production
// Postgres-backed store also satisfies.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]ExpectedJob
	entries map[string][]BackupEntry // jobID -> entries, insertion order
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]ExpectedJob),
		entries: make(map[string][]BackupEntry),
	}
}

func (m *Memory) ActiveJobs(ctx context.Context) ([]ExpectedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExpectedJob
	for _, j := range m.jobs {
		if j.IsActive {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return out, nil
}

func (m *Memory) Jobs(ctx context.Context) ([]ExpectedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExpectedJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sortJobs(out)
	return out, nil
}

func sortJobs(jobs []ExpectedJob) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
}

func (m *Memory) Job(ctx context.Context, id string) (*ExpectedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("store: job %q not found", id)
	}
	return &j, nil
}

func (m *Memory) FindByAgentAndDatabase(ctx context.Context, agentID, databaseName string) ([]ExpectedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExpectedJob
	for _, j := range m.jobs {
		if j.AgentID() == agentID && j.DatabaseName == databaseName {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return out, nil
}

func (m *Memory) RecentEntries(ctx context.Context, jobID string, since time.Time) ([]BackupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackupEntry
	for _, e := range m.entries[jobID] {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Entries(ctx context.Context, jobID string, limit int) ([]BackupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[jobID]
	out := make([]BackupEntry, len(all))
	for i, e := range all {
		out[len(all)-1-i] = e // newest first
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CommitDecision appends entry and patches the job under the store's
// single mutex, giving the same one-transaction-per-update guarantee
// spec.md §4.6 asks of the real Postgres store.
func (m *Memory) CommitDecision(ctx context.Context, jobID string, entry BackupEntry, patch JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("store: commit decision: job %q not found", jobID)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.ExpectedJobID = jobID
	m.entries[jobID] = append(m.entries[jobID], entry)

	j.CurrentStatus = patch.CurrentStatus
	last := patch.LastCheckedAt
	j.LastCheckedAt = &last
	if patch.LastSuccessfulAt != nil {
		j.LastSuccessfulAt = patch.LastSuccessfulAt
	}
	if patch.PreviousSuccessfulHash != nil {
		j.PreviousSuccessfulHash = patch.PreviousSuccessfulHash
	}
	m.jobs[jobID] = j
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, job ExpectedJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CurrentStatus == "" {
		job.CurrentStatus = JobUnknown
	}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *Memory) ResetJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("store: reset job: %q not found", jobID)
	}
	j.CurrentStatus = JobUnknown
	j.LastCheckedAt = nil
	j.LastSuccessfulAt = nil
	j.PreviousSuccessfulHash = nil
	m.jobs[jobID] = j
	delete(m.entries, jobID)
	return nil
}

func (m *Memory) Close() error { return nil }
