// Package hostpool supplements the single-host scope of package launcher
// with the host-level concurrency the original openvassd scanner main loop
// had (bounding how many hosts scan concurrently, on top of pluginlaunch.c's
// per-host routine bound) and which the distilled spec deliberately scoped
// out of the Launcher Core itself. One launcher.Core runs per host; Pool
// only bounds how many of those Cores run at once.
package hostpool

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/greenbone/nvt-launcher/internal/logger"
	"github.com/greenbone/nvt-launcher/launcher"
)

// RoutineJob is one routine to launch against a host, paired with the
// arguments launcher.Core.Launch needs for it.
type RoutineJob struct {
	Routine  *launcher.Routine
	Upstream launcher.Upstream
	Host     launcher.HostContext
	KB       launcher.KnowledgeBase
	Name     string
}

// HostJob is everything needed to drive one host's Launcher Core to
// completion.
type HostJob struct {
	ID                ulid.ULID
	Label             string
	NonSimultPortsCSV string
	SoftMax           int
	Routines          []RoutineJob
}

// NewJobID returns a fresh, sortable-by-creation-order ULID for a host
// session. Pool attaches it to the log lines of that host's failed launches.
func NewJobID() (ulid.ULID, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("hostpool: generate job id: %w", err)
	}

	return id, nil
}

// Pool runs at most maxHosts launcher.Cores concurrently, one per HostJob.
type Pool struct {
	catalog launcher.Catalog
	prefs   launcher.Preferences
	spawner launcher.Spawner
	sem     *semaphore.Weighted
}

// NewPool returns a Pool bounding host-level concurrency to maxHosts.
func NewPool(maxHosts int64, catalog launcher.Catalog, prefs launcher.Preferences, spawner launcher.Spawner) *Pool {
	return &Pool{
		catalog: catalog,
		prefs:   prefs,
		spawner: spawner,
		sem:     semaphore.NewWeighted(maxHosts),
	}
}

// Run drives every job to completion, never running more than maxHosts
// jobs' Launcher Cores at once. It returns the first error encountered by
// any job's context acquisition; per-routine launch failures are logged and
// do not abort the pool (a failing host should not block its siblings).
func (p *Pool) Run(ctx context.Context, jobs []HostJob) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return fmt.Errorf("hostpool: acquire host slot: %w", err)
		}

		job := job
		g.Go(func() error {
			defer p.sem.Release(1)

			p.runHost(job)

			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) runHost(job HostJob) {
	core := launcher.NewCore(p.catalog, p.prefs, p.spawner)
	core.Init(job.Label, job.NonSimultPortsCSV, job.SoftMax)

	for _, r := range job.Routines {
		if _, err := core.Launch(r.Routine, r.Upstream, r.Host, r.KB, r.Name); err != nil {
			logger.Warn("routine launch failed", logger.Ctx{
				"host": job.Label, "oid": r.Routine.OID, "jobID": job.ID.String(), "err": err,
			})
		}
	}

	core.WaitAll()
}
