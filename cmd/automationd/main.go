// Command automationd is the long-running daemon: it serves the GitHub
// webhook endpoint and the operator API, and schedules periodic cycles for
// every configured repository. Grounded on server/plugin.go's OnActivate
// wiring order (client -> router -> background poller) and the
// env-plus-YAML-overlay config loading already established in
// internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/cycle"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/execute"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/ingest"
	"github.com/octocrew/gh-automation-core/internal/logging"
	"github.com/octocrew/gh-automation-core/internal/plan"
	"github.com/octocrew/gh-automation-core/internal/ratebudget"
	"github.com/octocrew/gh-automation-core/internal/store"
)

func main() {
	overlayPath := flag.String("config", "", "path to a YAML configuration overlay")
	flag.Parse()

	cfg, err := config.Load(*overlayPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading configuration:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.EnableDebugLogging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithContext(ctx, log)

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Error(err, "opening store")
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(); err != nil {
		log.Error(err, "running migrations")
		os.Exit(1)
	}

	budget := ratebudget.New(ratebudget.WithSafetyReserveFraction(cfg.RateLimitSafetyReserve))
	rehydrateBudget(ctx, budget, st)

	gh := ghgateway.NewClient(cfg.GitHubToken, budget, st)
	cfgStore := config.NewStore(cfg)

	ing := ingest.New(gh, st, cfgStore)
	det := detect.New(gh)
	pl := plan.New(cfgStore)
	ex := execute.New(gh, st, cfgStore)
	cyc := cycle.New(ing, det, pl, ex, st, cfgStore)

	d := &daemon{cfg: cfgStore, ing: ing, ex: ex, cyc: cyc, st: st, log: log, startedAt: time.Now()}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           d.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go d.runScheduler(ctx)

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// rehydrateBudget seeds the in-memory rate budget from the last observed
// sample per bucket so a restart doesn't forget a near-exhausted window,
// per spec.md §3.2.
func rehydrateBudget(ctx context.Context, budget *ratebudget.Budget, st *store.Store) {
	buckets := []domain.RateLimitBucket{
		domain.BucketCore, domain.BucketSearch, domain.BucketGraphQL, domain.BucketIntegrationManifest,
	}
	for _, bucket := range buckets {
		sample, err := st.LatestRateLimitSample(ctx, bucket)
		if err != nil || sample == nil {
			continue
		}
		budget.Rehydrate(*sample)
	}
}
