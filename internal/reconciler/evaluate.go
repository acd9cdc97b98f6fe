package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/backupwatch/server/internal/digest"
	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/report"
	"github.com/backupwatch/server/internal/store"
)

// evaluate runs Phase 2 (spec.md §4.7 Phase 2) over every active job.
func (r *Reconciler) evaluate(ctx context.Context, ps *passState, res *Result) error {
	jobs, err := r.store.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: active jobs: %w", err)
	}

	var appended int64
	now := r.clock.Now()

	err = r.runConcurrent(ctx, len(jobs), func(ctx context.Context, i int) error {
		job := jobs[i]
		key := reportKey{agentID: job.AgentID(), dbName: job.DatabaseName}
		info, ok := ps.relevantReports[key]

		if ok && r.isRelevant(info.rep.OperationEnd, job, now) {
			if err := r.evaluateWithReport(ctx, job, info, now); err != nil {
				logf("job %s: %v", job.ID, err)
				return nil
			}
			atomic.AddInt64(&appended, 1)
			return nil
		}

		// No report, or report exists but is irrelevant to this job's
		// cycle: both collapse to the deadline check (spec.md §4.7
		// Phase 2, "Report exists but time-window-irrelevant").
		emitted, err := r.checkDeadline(ctx, job, now)
		if err != nil {
			logf("job %s deadline check: %v", job.ID, err)
			return nil
		}
		if emitted {
			atomic.AddInt64(&appended, 1)
		}
		return nil
	})

	res.EntriesAppended = int(appended)
	return err
}

// isRelevant reports whether end falls within ±W minutes of the
// expected instant for job on end's calendar date (spec.md §4.7
// "Time-window relevance").
func (r *Reconciler) isRelevant(end time.Time, job store.ExpectedJob, _ time.Time) bool {
	expected := expectedDatetime(end, job.ExpectedHourUTC, job.ExpectedMinuteUTC)
	w := r.cfg.window()
	lower := expected.Add(-w)
	upper := expected.Add(w)
	return !end.Before(lower) && !end.After(upper)
}

// expectedDatetime anchors hour:minute onto the calendar date of t.
func expectedDatetime(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, time.UTC)
}

// mostRecentAnchor returns the most recent cycle anchor at or before
// now (spec.md §4.7 "Deadline check").
func mostRecentAnchor(now time.Time, hour, minute int) time.Time {
	today := expectedDatetime(now, hour, minute)
	if !now.Before(today) {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// checkDeadline implements the deadline check and MISSING dedup
// (spec.md §4.7 Phase 2, §9 Open Question 4). It returns whether a
// MISSING entry was appended.
func (r *Reconciler) checkDeadline(ctx context.Context, job store.ExpectedJob, now time.Time) (bool, error) {
	anchor := mostRecentAnchor(now, job.ExpectedHourUTC, job.ExpectedMinuteUTC)
	w := r.cfg.window()
	deadline := anchor.Add(w)
	if !now.After(deadline) {
		return false, nil // still in flight
	}

	since := anchor.Add(-w)
	existing, err := r.store.RecentEntries(ctx, job.ID, since)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil // already handled this cycle
	}

	entry := store.BackupEntry{
		Timestamp:                    now,
		Status:                       store.EntryMissing,
		Message:                      "no report observed for this cycle by its deadline",
		PreviousSuccessfulHashGlobal: job.PreviousSuccessfulHash,
	}
	patch := store.JobPatch{CurrentStatus: store.JobMissing, LastCheckedAt: now}

	if err := r.store.CommitDecision(ctx, job.ID, entry, patch); err != nil {
		return false, err
	}
	r.publish(job, entry, now)
	return true, nil
}

// evaluateWithReport runs the integrity decision and persists it
// (spec.md §4.7.1, §4.7.2).
func (r *Reconciler) evaluateWithReport(ctx context.Context, job store.ExpectedJob, info reportInfo, now time.Time) error {
	entry, stagedFileName, err := r.decide(job, info)
	if err != nil {
		return err
	}

	if entry.Status == store.EntrySuccess && r.promote != nil {
		staged := r.resolver.StagingArtifact(info.site.AgentID(), stagedFileName)
		if _, err := r.promote.Promote(staged, job, stagedFileName); err != nil {
			// Promotion failure demotes the decision to FAILED; the
			// report has already been parsed and its integrity verified,
			// but the pass cannot call it a success (spec.md §4.7, §7).
			entry.Status = store.EntryFailed
			entry.Message = fmt.Sprintf("promotion failed: %v", err)
			entry.HashComparisonResult = false
		}
	}

	patch := store.JobPatch{
		CurrentStatus: store.JobStatusOf(entry.Status),
		LastCheckedAt: now,
	}
	if entry.Status == store.EntrySuccess {
		successAt := now
		patch.LastSuccessfulAt = &successAt
		hash := entry.ServerCalculatedHash
		patch.PreviousSuccessfulHash = &hash
	}

	if err := r.store.CommitDecision(ctx, job.ID, entry, patch); err != nil {
		return err
	}
	r.publish(job, entry, now)
	return nil
}

// decide runs the integrity decision tree (spec.md §4.7.1).
func (r *Reconciler) decide(job store.ExpectedJob, info reportInfo) (store.BackupEntry, string, error) {
	db := info.db
	now := r.clock.Now()

	entry := store.BackupEntry{
		Timestamp:                    now,
		OperationLogFileName:         baseName(info.path),
		AgentBackupStatus:            db.Backup.Status,
		AgentCompressStatus:          db.Compress.Status,
		AgentTransferStatus:          db.Transfer.Status,
		AgentSHA256Checksum:          db.Compress.SHA256Checksum,
		AgentSize:                    db.Compress.Size,
		AgentErrorText:               stageErrorText(db),
		AgentLogsSummary:             db.LogsSummary,
		PreviousSuccessfulHashGlobal: job.PreviousSuccessfulHash,
	}

	if !db.Backup.Status || !db.Compress.Status || !db.Transfer.Status {
		entry.Status = store.EntryFailed
		entry.Message = "stage failure: " + failedStages(db) + "; " + db.LogsSummary
		return entry, "", nil
	}

	staged := r.resolver.StagingArtifact(info.site.AgentID(), db.StagedFileName)
	exists, err := r.gw.Exists(staged)
	if err != nil {
		return store.BackupEntry{}, "", err
	}
	if !exists {
		entry.Status = store.EntryTransferIntegrityFail
		entry.Message = "staged artifact missing: " + staged
		return entry, "", nil
	}

	sum, err := digest.File(staged)
	if err != nil {
		return store.BackupEntry{}, "", err
	}
	entry.ServerCalculatedHash = sum.SHA256Hex
	entry.ServerCalculatedSize = sum.Size

	if !strings.EqualFold(sum.SHA256Hex, db.Compress.SHA256Checksum) || sum.Size != int64(db.Compress.Size) {
		entry.Status = store.EntryTransferIntegrityFail
		entry.Message = fmt.Sprintf("hash/size mismatch: server=%s/%d agent=%s/%d",
			sum.SHA256Hex, sum.Size, db.Compress.SHA256Checksum, db.Compress.Size)
		return entry, "", nil
	}

	if job.PreviousSuccessfulHash != nil && *job.PreviousSuccessfulHash == sum.SHA256Hex {
		entry.Status = store.EntryHashMismatch
		entry.HashComparisonResult = false
		entry.Message = "content unchanged since last successful backup"
		return entry, "", nil
	}

	entry.Status = store.EntrySuccess
	entry.HashComparisonResult = true
	entry.Message = "backup verified and promoted"
	return entry, db.StagedFileName, nil
}

func failedStages(db report.Database) string {
	var bad []string
	if !db.Backup.Status {
		bad = append(bad, "BACKUP")
	}
	if !db.Compress.Status {
		bad = append(bad, "COMPRESS")
	}
	if !db.Transfer.Status {
		bad = append(bad, "TRANSFER")
	}
	return strings.Join(bad, ",")
}

func stageErrorText(db report.Database) string {
	var parts []string
	for _, s := range []report.Stage{db.Backup, db.Compress, db.Transfer} {
		if s.ErrorMessage != "" {
			parts = append(parts, s.ErrorMessage)
		}
	}
	return strings.Join(parts, "; ")
}

func baseName(path string) string {
	i := strings.LastIndexAny(path, "/\\")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

func (r *Reconciler) publish(job store.ExpectedJob, entry store.BackupEntry, now time.Time) {
	if r.bus == nil {
		return
	}
	d := eventbus.Decision{Job: job, Entry: entry, Timestamp: now}
	r.bus.Publish(eventbus.TopicAll, d)
	if entry.Status != store.EntrySuccess {
		r.bus.Publish(eventbus.TopicAdverse, d)
	}
}
