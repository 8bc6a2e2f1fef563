package main

import (
	"context"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/cycle"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/execute"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/ingest"
	"github.com/octocrew/gh-automation-core/internal/plan"
	"github.com/octocrew/gh-automation-core/internal/ratebudget"
	"github.com/octocrew/gh-automation-core/internal/store"
)

// components bundles everything a subcommand needs, built fresh per
// invocation — automationctl is a short-lived process, not a server.
type components struct {
	cfg *config.Store
	st  *store.Store
	ex  *execute.Executor
	cyc *cycle.Controller
}

func buildComponents(ctx context.Context) (*components, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = st.Close() }

	budget := ratebudget.New(ratebudget.WithSafetyReserveFraction(cfg.RateLimitSafetyReserve))
	gh := ghgateway.NewClient(cfg.GitHubToken, budget, st)
	cfgStore := config.NewStore(cfg)

	ing := ingest.New(gh, st, cfgStore)
	det := detect.New(gh)
	pl := plan.New(cfgStore)
	ex := execute.New(gh, st, cfgStore)
	cyc := cycle.New(ing, det, pl, ex, st, cfgStore)

	return &components{cfg: cfgStore, st: st, ex: ex, cyc: cyc}, closer, nil
}
