package reconciler

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/backupwatch/server/internal/pathresolve"
	"github.com/backupwatch/server/internal/report"
)

// collect runs Phase 1 (spec.md §4.7 Phase 1): walk every immediate
// child of the staging root, enqueue report files for archival, parse
// the recognized ones, and retain the latest report per (agent, db).
func (r *Reconciler) collect(ctx context.Context, ps *passState, res *Result) error {
	entries, err := r.gw.ListDir(r.resolver.StagingRoot)
	if err != nil {
		return err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}

	var parsed, rejected int64

	err = r.runConcurrent(ctx, len(dirs), func(ctx context.Context, i int) error {
		dirName := dirs[i]
		site, ok := pathresolve.ParseAgentDir(dirName)
		logDir := r.resolver.LogDir(dirName)

		if !ok {
			// Unrecognized directory: archive every *.json unparsed, never
			// look inside it again (spec.md §4.7 Phase 1, step 1).
			files, err := r.gw.ListDir(logDir)
			if err != nil {
				logf("list log dir %s: %v", logDir, err)
				return nil
			}
			for _, f := range files {
				if !f.IsDir() && strings.HasSuffix(strings.ToLower(f.Name()), ".json") {
					ps.enqueueArchive(filepath.Join(logDir, f.Name()))
				}
			}
			return nil
		}

		agentID := site.AgentID()
		files, err := r.gw.ListDir(logDir)
		if err != nil {
			logf("list log dir %s: %v", logDir, err)
			return nil
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if _, ok := pathresolve.MatchReportFilename(f.Name()); !ok {
				continue // unrecognized name in a valid directory: ignored, not archived
			}

			path := filepath.Join(logDir, f.Name())
			ps.enqueueArchive(path) // consumed unconditionally, even if invalid

			rep, err := report.Load(path, report.Options{
				Now:             r.clock.Now(),
				MaxReportAge:    r.cfg.MaxReportAge,
				ExpectedAgentID: agentID,
			})
			if err != nil {
				logf("reject %s: %v", path, err)
				atomic.AddInt64(&rejected, 1)
				continue
			}
			atomic.AddInt64(&parsed, 1)

			if rep.HadNaiveTimestamp {
				logf("warning: %s carries a naive timestamp, treated as UTC", path)
			}

			for dbName, db := range rep.Databases {
				ps.offerReport(reportKey{agentID: agentID, dbName: dbName}, reportInfo{
					rep: rep, db: db, path: path, site: site,
				})
			}
		}
		return nil
	})

	res.ReportsParsed = int(parsed)
	res.ReportsRejected = int(rejected)
	return err
}
