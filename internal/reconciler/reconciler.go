// Package reconciler implements the scanner core: the three-phase
// Collect -> Evaluate -> Archive pass described in spec.md §4.7.
package reconciler

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/backupwatch/server/internal/clock"
	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/fsx"
	"github.com/backupwatch/server/internal/pathresolve"
	"github.com/backupwatch/server/internal/promoter"
	"github.com/backupwatch/server/internal/report"
	"github.com/backupwatch/server/internal/store"
)

// Config carries the per-pass tunables of spec.md §6.3 that the
// reconciler itself consumes.
type Config struct {
	// WindowMinutes is W, the relevance/deadline tolerance.
	WindowMinutes int
	// MaxReportAge rejects reports older than this relative to now.
	MaxReportAge time.Duration
	// AgentConcurrency bounds how many agent directories (Collect) and
	// jobs (Evaluate) are processed concurrently within one pass (spec.md §5).
	AgentConcurrency int
}

func (c Config) window() time.Duration { return time.Duration(c.WindowMinutes) * time.Minute }

// Reconciler owns one scanner pass. It holds no state across passes
// beyond its collaborators; every piece of per-pass data lives in a
// freshly allocated passState.
type Reconciler struct {
	cfg      Config
	clock    clock.Clock
	gw       *fsx.Gateway
	resolver *pathresolve.Resolver
	store    store.Store
	promote  *promoter.Promoter
	bus      *eventbus.Bus
}

// New wires a Reconciler from its collaborators. bus may be nil, in
// which case decisions are not published anywhere (used by tests that
// only care about Store side effects).
func New(cfg Config, c clock.Clock, gw *fsx.Gateway, resolver *pathresolve.Resolver, st store.Store, prom *promoter.Promoter, bus *eventbus.Bus) *Reconciler {
	if cfg.AgentConcurrency <= 0 {
		cfg.AgentConcurrency = 8
	}
	return &Reconciler{cfg: cfg, clock: c, gw: gw, resolver: resolver, store: st, promote: prom, bus: bus}
}

// reportInfo is the winning report for one (agent_id, db_name) key,
// retained across the whole Collect phase by latest operation_end_time.
type reportInfo struct {
	rep  *report.Report
	db   report.Database
	path string
	site pathresolve.SiteCoords
}

type reportKey struct {
	agentID string
	dbName  string
}

// passState is the Reconciler's private per-pass scratch space
// (spec.md §4.7: "per-pass private state").
type passState struct {
	mu              sync.Mutex
	relevantReports map[reportKey]reportInfo
	toArchive       map[string]struct{}
}

// offerReport installs info as the winner for key if it is the first
// candidate or newer than the incumbent (spec.md §4.7 Phase 1 tie-break).
func (ps *passState) offerReport(key reportKey, info reportInfo) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	cur, ok := ps.relevantReports[key]
	if !ok || info.rep.OperationEnd.After(cur.rep.OperationEnd) {
		ps.relevantReports[key] = info
	}
}

func (ps *passState) enqueueArchive(path string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.toArchive[path] = struct{}{}
}

// Result summarizes one completed pass, for logging and tests.
type Result struct {
	ReportsParsed    int
	ReportsRejected  int
	EntriesAppended  int
	Archived         int
	ArchiveFailures  int
}

// Run executes one full Collect -> Evaluate -> Archive pass.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	ps := &passState{
		relevantReports: make(map[reportKey]reportInfo),
		toArchive:       make(map[string]struct{}),
	}

	var res Result
	if err := r.collect(ctx, ps, &res); err != nil {
		return res, err
	}
	if err := r.evaluate(ctx, ps, &res); err != nil {
		return res, err
	}
	r.archive(ps, &res)
	return res, nil
}

func (r *Reconciler) runConcurrent(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.AgentConcurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}

func logf(format string, args ...any) { log.Printf("[reconciler] "+format, args...) }
