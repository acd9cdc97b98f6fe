// Package promoter copies a validated staged artifact into its
// permanent location (spec.md §4.8).
package promoter

import (
	"fmt"

	"github.com/backupwatch/server/internal/fsx"
	"github.com/backupwatch/server/internal/pathresolve"
	"github.com/backupwatch/server/internal/store"
)

// Error wraps a promotion failure. The Reconciler catches it and
// demotes the pass decision to FAILED (spec.md §4.7, §7).
type Error struct {
	Job   string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("promoter: job %s: %v", e.Job, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Promoter copies staged artifacts into the validated tree.
type Promoter struct {
	gw       *fsx.Gateway
	resolver *pathresolve.Resolver
}

// New returns a Promoter that copies through gw using resolver to
// compute destination paths.
func New(gw *fsx.Gateway, resolver *pathresolve.Resolver) *Promoter {
	return &Promoter{gw: gw, resolver: resolver}
}

// Promote copies staged to its permanent path for job and returns the
// destination. The destination year is job.Year, the Expected Job's own
// year attribute (spec.md §3.1, §4.5) — not the calendar year of the
// cycle that produced staged, matching the ground-truth
// backup_manager.promote_backup, which promotes under str(job.year). The
// staged file is left in place; later passes may re-observe it (spec.md
// §4.8). Overwriting the same destination twice is idempotent and yields
// byte-identical output (spec.md §8).
func (p *Promoter) Promote(staged string, job store.ExpectedJob, stagedFileName string) (string, error) {
	site := pathresolve.SiteCoords{Company: job.Company, City: job.City, Neighborhood: job.Neighborhood}
	dst, err := p.resolver.Promotion(job.Year, site, job.DatabaseName, stagedFileName)
	if err != nil {
		return "", &Error{Job: job.ID, Path: staged, Err: err}
	}
	if err := p.gw.Copy(staged, dst); err != nil {
		return "", &Error{Job: job.ID, Path: staged, Err: err}
	}
	return dst, nil
}
