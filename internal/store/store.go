package store

import (
	"context"
	"time"
)

// Store is the transactional interface the reconciler, API and seeding
// tools use to read and mutate the catalogue (spec.md §4.6). Concrete
// implementations are Postgres (production) and Memory (tests).
type Store interface {
	// ActiveJobs returns every job with IsActive = true.
	ActiveJobs(ctx context.Context) ([]ExpectedJob, error)

	// Jobs returns every job regardless of IsActive, for the read-only
	// catalogue surface.
	Jobs(ctx context.Context) ([]ExpectedJob, error)

	// Job fetches a single job by id.
	Job(ctx context.Context, id string) (*ExpectedJob, error)

	// FindByAgentAndDatabase returns every job matching the given agent
	// and database name (there may be several, with distinct cycle
	// anchors — spec.md §4.7 Phase 2's "two daily cycles" case).
	FindByAgentAndDatabase(ctx context.Context, agentID, databaseName string) ([]ExpectedJob, error)

	// RecentEntries returns history entries for job with Timestamp >= since,
	// oldest first.
	RecentEntries(ctx context.Context, jobID string, since time.Time) ([]BackupEntry, error)

	// Entries returns up to limit most-recent history entries for job,
	// newest first. limit <= 0 means no limit.
	Entries(ctx context.Context, jobID string, limit int) ([]BackupEntry, error)

	// CommitDecision appends entry and applies patch to the job it
	// belongs to in a single transaction (spec.md §4.6, §4.7.2).
	CommitDecision(ctx context.Context, jobID string, entry BackupEntry, patch JobPatch) error

	// CreateJob inserts a new expected job (used by the catalogue
	// seeding tool, spec.md §1's "out of scope" seeding scripts).
	CreateJob(ctx context.Context, job ExpectedJob) (string, error)

	// ResetJob clears a job's computed state back to UNKNOWN, for
	// operator-driven recovery (not in spec.md; an admin utility
	// analogous to the teacher's checkpoint-reset tool).
	ResetJob(ctx context.Context, jobID string) error

	Close() error
}
