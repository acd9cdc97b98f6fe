package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/backupwatch/server/internal/clock"
	"github.com/backupwatch/server/internal/fsx"
	"github.com/backupwatch/server/internal/pathresolve"
	"github.com/backupwatch/server/internal/promoter"
	"github.com/backupwatch/server/internal/store"
)

type rawStage struct {
	Status         bool   `json:"status"`
	SHA256Checksum string `json:"sha256_checksum,omitempty"`
	Size           uint64 `json:"size,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type rawDatabase struct {
	Backup         rawStage `json:"BACKUP"`
	Compress       rawStage `json:"COMPRESS"`
	Transfer       rawStage `json:"TRANSFER"`
	StagedFileName string   `json:"staged_file_name"`
}

type rawReport struct {
	OperationStartTime string                 `json:"operation_start_time"`
	OperationEndTime   string                 `json:"operation_end_time"`
	AgentID            string                 `json:"agent_id"`
	OverallStatus      string                 `json:"overall_status"`
	Databases          map[string]rawDatabase `json:"databases"`
}

type harness struct {
	t        *testing.T
	root     string
	gw       *fsx.Gateway
	resolver *pathresolve.Resolver
	st       *store.Memory
	clk      *clock.Fixed
	recon    *Reconciler
}

func newHarness(t *testing.T, now time.Time) *harness {
	root := t.TempDir()
	gw, err := fsx.New(root)
	require.NoError(t, err)
	resolver := pathresolve.New(root, filepath.Join(root, "validated"))
	st := store.NewMemory()
	clk := clock.NewFixed(now)
	prom := promoter.New(gw, resolver)
	cfg := Config{WindowMinutes: 60, MaxReportAge: 24 * time.Hour}
	recon := New(cfg, clk, gw, resolver, st, prom, nil)
	return &harness{t: t, root: root, gw: gw, resolver: resolver, st: st, clk: clk, recon: recon}
}

func (h *harness) writeStaged(agentID, fileName, content string) {
	path := h.resolver.StagingArtifact(agentID, fileName)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *harness) writeReport(agentID, fileName string, rr rawReport) {
	dir := h.resolver.LogDir(agentID)
	require.NoError(h.t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(rr)
	require.NoError(h.t, err)
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, fileName), data, 0o644))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func isoZ(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05Z") }

func TestS1Success(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	jobID, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Year: 2025, Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	content := "X"
	h.writeStaged("acme_paris_nord", "sales.sql.gz", content)
	end := time.Date(2025, 1, 15, 13, 10, 0, 0, time.UTC)
	h.writeReport("acme_paris_nord", "20250115_131000_acme_paris_nord.json", rawReport{
		OperationStartTime: isoZ(end.Add(-time.Minute)),
		OperationEndTime:   isoZ(end),
		AgentID:            "acme_paris_nord",
		OverallStatus:      "completed",
		Databases: map[string]rawDatabase{
			"sales": {
				Backup: rawStage{Status: true}, Compress: rawStage{Status: true, SHA256Checksum: sha256Hex(content), Size: uint64(len(content))},
				Transfer: rawStage{Status: true}, StagedFileName: "sales.sql.gz",
			},
		},
	})

	res, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.EntriesAppended)
	require.Equal(t, 1, res.Archived)

	job, err := h.st.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobOK, job.CurrentStatus)
	require.NotNil(t, job.PreviousSuccessfulHash)
	require.Equal(t, sha256Hex(content), *job.PreviousSuccessfulHash)

	dst := filepath.Join(h.root, "validated", "2025", "acme", "paris", "nord", "sales", "sales.sql.gz")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, content, string(data))

	_, err = os.Stat(filepath.Join(h.resolver.LogDir("acme_paris_nord"), "20250115_131000_acme_paris_nord.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(h.resolver.ArchiveDir("acme_paris_nord"), "20250115_131000_acme_paris_nord.json"))
	require.NoError(t, err)
}

func TestPromotionUsesJobYearNotReportYear(t *testing.T) {
	// The job's configured Year (2030, e.g. a backfill) diverges from the
	// cycle's actual calendar date (2025); promotion must follow the job
	// attribute, matching backup_manager.promote_backup.
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	_, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Year: 2030, Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	content := "X"
	h.writeStaged("acme_paris_nord", "sales.sql.gz", content)
	end := time.Date(2025, 1, 15, 13, 10, 0, 0, time.UTC)
	h.writeReport("acme_paris_nord", "20250115_131000_acme_paris_nord.json", rawReport{
		OperationStartTime: isoZ(end.Add(-time.Minute)),
		OperationEndTime:   isoZ(end),
		AgentID:            "acme_paris_nord",
		OverallStatus:      "completed",
		Databases: map[string]rawDatabase{
			"sales": {
				Backup: rawStage{Status: true}, Compress: rawStage{Status: true, SHA256Checksum: sha256Hex(content), Size: uint64(len(content))},
				Transfer: rawStage{Status: true}, StagedFileName: "sales.sql.gz",
			},
		},
	})

	_, err = h.recon.Run(ctx)
	require.NoError(t, err)

	dst := filepath.Join(h.root, "validated", "2030", "acme", "paris", "nord", "sales", "sales.sql.gz")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestS2UnchangedContentNoPromotion(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	content := "X"
	hash := sha256Hex(content)
	jobID, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Year: 2025, Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true, PreviousSuccessfulHash: &hash,
	})
	require.NoError(t, err)

	h.writeStaged("acme_paris_nord", "sales.sql.gz", content)
	end := time.Date(2025, 1, 15, 13, 10, 0, 0, time.UTC)
	h.writeReport("acme_paris_nord", "20250115_131000_acme_paris_nord.json", rawReport{
		OperationStartTime: isoZ(end.Add(-time.Minute)),
		OperationEndTime:   isoZ(end),
		AgentID:            "acme_paris_nord",
		OverallStatus:      "completed",
		Databases: map[string]rawDatabase{
			"sales": {
				Backup: rawStage{Status: true}, Compress: rawStage{Status: true, SHA256Checksum: hash, Size: uint64(len(content))},
				Transfer: rawStage{Status: true}, StagedFileName: "sales.sql.gz",
			},
		},
	})

	res, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.EntriesAppended)

	job, err := h.st.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobHashMismatch, job.CurrentStatus)
	require.Equal(t, hash, *job.PreviousSuccessfulHash)

	_, err = os.Stat(filepath.Join(h.root, "validated", "2025", "acme", "paris", "nord", "sales", "sales.sql.gz"))
	require.True(t, os.IsNotExist(err), "no promotion on HASH_MISMATCH")
}

func TestS3Corruption(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	jobID, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	h.writeStaged("acme_paris_nord", "sales.sql.gz", "Y")
	end := time.Date(2025, 1, 15, 13, 10, 0, 0, time.UTC)
	h.writeReport("acme_paris_nord", "20250115_131000_acme_paris_nord.json", rawReport{
		OperationStartTime: isoZ(end.Add(-time.Minute)),
		OperationEndTime:   isoZ(end),
		AgentID:            "acme_paris_nord",
		OverallStatus:      "completed",
		Databases: map[string]rawDatabase{
			"sales": {
				Backup: rawStage{Status: true}, Compress: rawStage{Status: true, SHA256Checksum: sha256Hex("X"), Size: 1},
				Transfer: rawStage{Status: true}, StagedFileName: "sales.sql.gz",
			},
		},
	})

	_, err = h.recon.Run(ctx)
	require.NoError(t, err)

	job, err := h.st.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobTransferIntegrityFail, job.CurrentStatus)
}

func TestS4MissingAfterDeadline(t *testing.T) {
	now := time.Date(2025, 1, 15, 14, 1, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	jobID, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	res, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.EntriesAppended)

	job, err := h.st.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobMissing, job.CurrentStatus)
}

func TestS5StillInFlight(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	_, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	res, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.EntriesAppended)
}

func TestS7TwoDailyCyclesOneAgent(t *testing.T) {
	now := time.Date(2025, 1, 15, 20, 10, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	job13, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)
	job20, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 20, IsActive: true,
	})
	require.NoError(t, err)

	content := "X"
	h.writeStaged("acme_paris_nord", "sales.sql.gz", content)
	end := time.Date(2025, 1, 15, 20, 5, 0, 0, time.UTC)
	h.writeReport("acme_paris_nord", "20250115_200500_acme_paris_nord.json", rawReport{
		OperationStartTime: isoZ(end.Add(-time.Minute)),
		OperationEndTime:   isoZ(end),
		AgentID:            "acme_paris_nord",
		OverallStatus:      "completed",
		Databases: map[string]rawDatabase{
			"sales": {
				Backup: rawStage{Status: true}, Compress: rawStage{Status: true, SHA256Checksum: sha256Hex(content), Size: uint64(len(content))},
				Transfer: rawStage{Status: true}, StagedFileName: "sales.sql.gz",
			},
		},
	})

	_, err = h.recon.Run(ctx)
	require.NoError(t, err)

	j20, err := h.st.Job(ctx, job20)
	require.NoError(t, err)
	require.Equal(t, store.JobOK, j20.CurrentStatus)

	j13, err := h.st.Job(ctx, job13)
	require.NoError(t, err)
	require.Equal(t, store.JobMissing, j13.CurrentStatus, "13:00 cycle is unaffected by the 20:05 report and its own deadline has passed")
}

func TestUnrecognizedAgentDirArchivesWithoutParsing(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	dir := filepath.Join(h.root, "not_a_valid_dir_name", "log")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{not json"), 0o644))

	res, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.ReportsParsed)
	require.Equal(t, 1, res.Archived)
}

func TestRerunOnEmptyFilesystemIsNoop(t *testing.T) {
	now := time.Date(2025, 1, 15, 13, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	ctx := context.Background()

	_, err := h.st.CreateJob(ctx, store.ExpectedJob{
		Company: "acme", City: "paris", Neighborhood: "nord", DatabaseName: "sales",
		ExpectedHourUTC: 13, IsActive: true,
	})
	require.NoError(t, err)

	res1, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res1.EntriesAppended)

	res2, err := h.recon.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res2.EntriesAppended)
	require.Equal(t, 0, res2.Archived)
}
