package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production Store, backed by a pgxpool.Pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dbURL and returns a ready Postgres store.
// Pool sizing mirrors the teacher's pattern of overridable env knobs
// layered on top of pgxpool's own defaults.
func NewPostgres(ctx context.Context, dbURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse db url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Migrate executes schemaSQL, the text of schema.sql. Idempotent: every statement
// in schema.sql uses CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS.
func (p *Postgres) Migrate(ctx context.Context, schemaSQL string) error {
	_, err := p.db.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *Postgres) ActiveJobs(ctx context.Context) ([]ExpectedJob, error) {
	return p.queryJobs(ctx, "WHERE is_active = true ORDER BY id")
}

func (p *Postgres) Jobs(ctx context.Context) ([]ExpectedJob, error) {
	return p.queryJobs(ctx, "ORDER BY id")
}

func (p *Postgres) FindByAgentAndDatabase(ctx context.Context, agentID, databaseName string) ([]ExpectedJob, error) {
	return p.queryJobs(ctx,
		"WHERE lower(company||'_'||city||'_'||neighborhood) = $1 AND database_name = $2 ORDER BY id",
		agentID, databaseName)
}

func (p *Postgres) Job(ctx context.Context, id string) (*ExpectedJob, error) {
	jobs, err := p.queryJobs(ctx, "WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("store: job %q not found", id)
	}
	return &jobs[0], nil
}

const jobColumns = `id, year, company, city, neighborhood, database_name,
	expected_hour_utc, expected_minute_utc, expected_frequency, days_of_week,
	final_storage_template, is_active, current_status, last_checked_at,
	last_successful_at, previous_successful_hash`

func (p *Postgres) queryJobs(ctx context.Context, whereOrderBy string, args ...any) ([]ExpectedJob, error) {
	rows, err := p.db.Query(ctx, "SELECT "+jobColumns+" FROM expected_backup_jobs "+whereOrderBy, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query jobs: %w", err)
	}
	defer rows.Close()

	var out []ExpectedJob
	for rows.Next() {
		var j ExpectedJob
		var days []string
		if err := rows.Scan(&j.ID, &j.Year, &j.Company, &j.City, &j.Neighborhood, &j.DatabaseName,
			&j.ExpectedHourUTC, &j.ExpectedMinuteUTC, &j.ExpectedFrequency, &days,
			&j.FinalStorageTemplate, &j.IsActive, &j.CurrentStatus, &j.LastCheckedAt,
			&j.LastSuccessfulAt, &j.PreviousSuccessfulHash); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		for _, d := range days {
			j.DaysOfWeek = append(j.DaysOfWeek, Weekday(d))
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) RecentEntries(ctx context.Context, jobID string, since time.Time) ([]BackupEntry, error) {
	rows, err := p.db.Query(ctx, `SELECT `+entryColumns+` FROM backup_entries
		WHERE expected_job_id = $1 AND timestamp >= $2 ORDER BY timestamp ASC`, jobID, since)
	if err != nil {
		return nil, fmt.Errorf("store: recent entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *Postgres) Entries(ctx context.Context, jobID string, limit int) ([]BackupEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM backup_entries WHERE expected_job_id = $1 ORDER BY timestamp DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = p.db.Query(ctx, q+" LIMIT $2", jobID, limit)
	} else {
		rows, err = p.db.Query(ctx, q, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

const entryColumns = `id, expected_job_id, timestamp, status, message, operation_log_file_name,
	agent_backup_status, agent_compress_status, agent_transfer_status, agent_sha256_checksum,
	agent_size, agent_error_text, agent_logs_summary, server_calculated_hash,
	server_calculated_size, previous_successful_hash_global, hash_comparison_result`

func scanEntries(rows pgx.Rows) ([]BackupEntry, error) {
	var out []BackupEntry
	for rows.Next() {
		var e BackupEntry
		if err := rows.Scan(&e.ID, &e.ExpectedJobID, &e.Timestamp, &e.Status, &e.Message, &e.OperationLogFileName,
			&e.AgentBackupStatus, &e.AgentCompressStatus, &e.AgentTransferStatus, &e.AgentSHA256Checksum,
			&e.AgentSize, &e.AgentErrorText, &e.AgentLogsSummary, &e.ServerCalculatedHash,
			&e.ServerCalculatedSize, &e.PreviousSuccessfulHashGlobal, &e.HashComparisonResult); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CommitDecision appends entry and patches the owning job inside a
// single transaction, per spec.md §4.6 ("entry + job patch are
// committed together").
func (p *Postgres) CommitDecision(ctx context.Context, jobID string, entry BackupEntry, patch JobPatch) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.ExpectedJobID = jobID

	_, err = tx.Exec(ctx, `INSERT INTO backup_entries (`+entryColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		entry.ID, entry.ExpectedJobID, entry.Timestamp, entry.Status, entry.Message, entry.OperationLogFileName,
		entry.AgentBackupStatus, entry.AgentCompressStatus, entry.AgentTransferStatus, entry.AgentSHA256Checksum,
		entry.AgentSize, entry.AgentErrorText, entry.AgentLogsSummary, entry.ServerCalculatedHash,
		entry.ServerCalculatedSize, entry.PreviousSuccessfulHashGlobal, entry.HashComparisonResult)
	if err != nil {
		return fmt.Errorf("store: insert entry: %w", err)
	}

	if patch.PreviousSuccessfulHash != nil {
		_, err = tx.Exec(ctx, `UPDATE expected_backup_jobs SET current_status=$1, last_checked_at=$2,
			last_successful_at=COALESCE($3, last_successful_at), previous_successful_hash=$4 WHERE id=$5`,
			patch.CurrentStatus, patch.LastCheckedAt, patch.LastSuccessfulAt, *patch.PreviousSuccessfulHash, jobID)
	} else {
		_, err = tx.Exec(ctx, `UPDATE expected_backup_jobs SET current_status=$1, last_checked_at=$2,
			last_successful_at=COALESCE($3, last_successful_at) WHERE id=$4`,
			patch.CurrentStatus, patch.LastCheckedAt, patch.LastSuccessfulAt, jobID)
	}
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) CreateJob(ctx context.Context, job ExpectedJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CurrentStatus == "" {
		job.CurrentStatus = JobUnknown
	}
	days := make([]string, len(job.DaysOfWeek))
	for i, d := range job.DaysOfWeek {
		days[i] = string(d)
	}
	_, err := p.db.Exec(ctx, `INSERT INTO expected_backup_jobs
		(id, year, company, city, neighborhood, database_name, expected_hour_utc, expected_minute_utc,
		 expected_frequency, days_of_week, final_storage_template, is_active, current_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		job.ID, job.Year, job.Company, job.City, job.Neighborhood, job.DatabaseName,
		job.ExpectedHourUTC, job.ExpectedMinuteUTC, job.ExpectedFrequency, days,
		job.FinalStorageTemplate, job.IsActive, job.CurrentStatus)
	if err != nil {
		return "", fmt.Errorf("store: create job: %w", err)
	}
	return job.ID, nil
}

func (p *Postgres) ResetJob(ctx context.Context, jobID string) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE expected_backup_jobs SET current_status=$1,
		last_checked_at=NULL, last_successful_at=NULL, previous_successful_hash=NULL WHERE id=$2`,
		JobUnknown, jobID); err != nil {
		return fmt.Errorf("store: reset job: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM backup_entries WHERE expected_job_id=$1`, jobID); err != nil {
		return fmt.Errorf("store: reset job entries: %w", err)
	}
	return tx.Commit(ctx)
}
