package main

import (
	"context"
	"strings"
	"time"

	"github.com/octocrew/gh-automation-core/internal/cycle"
)

// runScheduler launches one ticker goroutine per configured repository,
// each invoking RunCycle on its own cadence, and blocks until ctx is
// cancelled. This replaces server/plugin.go's OnActivate use of
// cluster.Schedule (a Mattermost-cluster-aware scheduling primitive not
// available to a standalone binary) with a plain time.Ticker: each
// repository's cycle runs once immediately, then again on every tick.
func (d *daemon) runScheduler(ctx context.Context) {
	interval := time.Duration(d.cfg.Get().GetPollInterval()) * time.Second

	for _, repo := range d.cfg.Get().ParseRepositories() {
		owner, name, ok := splitRepo(repo)
		if !ok {
			d.log.Info("skipping malformed repository entry", "repository", repo)
			continue
		}
		go d.scheduleRepo(ctx, owner, name, interval)
	}

	<-ctx.Done()
}

func (d *daemon) scheduleRepo(ctx context.Context, owner, repo string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.runOneCycle(ctx, owner, repo)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOneCycle(ctx, owner, repo)
		}
	}
}

func (d *daemon) runOneCycle(ctx context.Context, owner, repo string) {
	report, err := d.cyc.RunCycle(ctx, owner, repo, cycle.Options{})
	if err != nil {
		d.log.Error(err, "cycle failed", "owner", owner, "repo", repo)
		return
	}
	for _, phaseErr := range report.Errors {
		d.log.Error(phaseErr.Err, "cycle phase error", "phase", phaseErr.Phase, "owner", owner, "repo", repo)
	}
}

func splitRepo(fullName string) (owner, repo string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
