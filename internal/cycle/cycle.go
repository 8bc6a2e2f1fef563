// Package cycle implements the Cycle Controller (C8): the top-level
// orchestration that sequences ingest -> detect -> plan -> execute for one
// repository and assembles the run's report, per spec.md §4.8. Grounded on
// server/poller.go's top-level poll loop — the teacher's single function
// that sequences fetch -> filter -> launch -> record, generalized here to
// five phases with per-phase timing.
package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/execute"
	"github.com/octocrew/gh-automation-core/internal/ingest"
	"github.com/octocrew/gh-automation-core/internal/logging"
	"github.com/octocrew/gh-automation-core/internal/plan"
	"github.com/octocrew/gh-automation-core/internal/store"
)

// allBuckets enumerates the rate-limit buckets surfaced by HealthSnapshot.
var allBuckets = []domain.RateLimitBucket{
	domain.BucketCore, domain.BucketSearch, domain.BucketGraphQL, domain.BucketIntegrationManifest,
}

// cycleStore is the narrow slice of *store.Store the controller needs.
type cycleStore interface {
	ListIssuesForRepo(ctx context.Context, owner, repo string, updatedSince *time.Time) ([]domain.Issue, error)
	MarkIssueAnalyzed(ctx context.Context, issueID int64, duration time.Duration) error
	UpdateIssueScore(ctx context.Context, issueID int64, score float64, confidence *domain.AutomationConfidence, eligible bool) error
	RecordDetections(ctx context.Context, issueID int64, detections []domain.FeatureDetection) error
	CreateAction(ctx context.Context, a domain.Action) (int64, error)
	LatestCompletedCloseAction(ctx context.Context, issueID int64) (*domain.Action, error)
	RecordCycleMetrics(ctx context.Context, m store.CycleMetrics) error
	RecentMetrics(ctx context.Context, limit int) ([]store.CycleMetrics, error)
	LatestRateLimitSample(ctx context.Context, bucket domain.RateLimitBucket) (*domain.RateLimitSample, error)
	ReapStuckActions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Controller sequences the four components for one repository.
type Controller struct {
	ing *ingest.Ingestor
	det *detect.Detector
	pl  *plan.Planner
	ex  *execute.Executor
	st  cycleStore
	cfg *config.Store
	now func() time.Time
}

// New builds a Controller from the already-constructed components.
func New(ing *ingest.Ingestor, det *detect.Detector, pl *plan.Planner, ex *execute.Executor, st *store.Store, cfg *config.Store) *Controller {
	return &Controller{ing: ing, det: det, pl: pl, ex: ex, st: st, cfg: cfg, now: time.Now}
}

// Options tunes one RunCycle invocation.
type Options struct {
	ForceFullScan bool
	MaxActions    int // 0 uses cfg.MaxActionsPerRun
}

// PhaseError records a terminal failure confined to one phase; RunCycle
// continues past it so a detect or execute failure doesn't also discard a
// successful ingest.
type PhaseError struct {
	Phase string
	Err   error
}

// CycleReport is the per-run summary persisted to automation_metrics and
// returned to callers (the HTTP API, automationctl's run-cycle subcommand).
type CycleReport struct {
	CycleID   string
	RepoOwner string
	RepoName  string
	StartedAt time.Time
	EndedAt   time.Time

	IssuesFetched      int
	IssuesNew          int
	IssuesUpdated      int
	IssuesAnalyzed     int
	DetectionsRecorded int
	ActionsPlanned     int
	ActionsCompleted   int
	ActionsFailed      int
	ActionsRolledBack  int
	AutoRollbacksTriggered int

	IngestDuration  time.Duration
	DetectDuration  time.Duration
	PlanDuration    time.Duration
	ExecuteDuration time.Duration
	TotalDuration   time.Duration

	RateLimitHeadroom map[domain.RateLimitBucket]BucketHeadroom
	Errors            []PhaseError
}

// RunCycle implements spec.md §4.8's `run_cycle(owner, repo, options)`.
func (c *Controller) RunCycle(ctx context.Context, owner, repo string, opts Options) (CycleReport, error) {
	cfg := c.cfg.Get()
	if cfg.CycleDeadlineSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.CycleDeadlineSeconds)*time.Second)
		defer cancel()
	}

	report := CycleReport{
		CycleID:   uuid.NewString(),
		RepoOwner: owner,
		RepoName:  repo,
		StartedAt: c.now(),
	}
	log := logging.FromContext(ctx).WithValues("cycle_id", report.CycleID, "owner", owner, "repo", repo)
	log.Info("cycle started")

	ingestStart := c.now()
	syncResult, err := c.ing.Sync(ctx, owner, repo, opts.ForceFullScan)
	report.IngestDuration = c.now().Sub(ingestStart)
	report.IssuesFetched, report.IssuesNew, report.IssuesUpdated = syncResult.Fetched, syncResult.New, syncResult.Updated
	if err != nil {
		report.Errors = append(report.Errors, PhaseError{Phase: "ingest", Err: err})
		log.Error(err, "ingest phase failed")
	}

	changedSince := ingestStart.Add(-recencyGrace)
	issues, err := c.st.ListIssuesForRepo(ctx, owner, repo, &changedSince)
	if err != nil {
		report.Errors = append(report.Errors, PhaseError{Phase: "ingest", Err: errors.Wrap(err, "listing changed issues")})
		issues = nil
	}

	detectStart := c.now()
	inputs := c.analyzeAll(ctx, owner, repo, issues, &report, log)
	report.DetectDuration = c.now().Sub(detectStart)

	planStart := c.now()
	maxActions := opts.MaxActions
	if maxActions <= 0 {
		maxActions = cfg.MaxActionsPerRun
	}
	actions := c.pl.Plan(ctx, inputs)
	for _, a := range actions {
		if _, err := c.st.CreateAction(ctx, a); err != nil {
			report.Errors = append(report.Errors, PhaseError{Phase: "plan", Err: errors.Wrap(err, "persisting planned action")})
			continue
		}
		report.ActionsPlanned++
	}
	report.PlanDuration = c.now().Sub(planStart)

	report.AutoRollbacksTriggered = c.triggerReopenRollbacks(ctx, issues, cfg, log)
	report.ActionsRolledBack = report.AutoRollbacksTriggered

	c.reapStuckActions(ctx, cfg, log)

	executeStart := c.now()
	drainReport, err := c.ex.Drain(ctx, maxActions)
	report.ExecuteDuration = c.now().Sub(executeStart)
	report.ActionsCompleted = drainReport.Completed
	report.ActionsFailed = drainReport.Failed
	if err != nil {
		report.Errors = append(report.Errors, PhaseError{Phase: "execute", Err: err})
		log.Error(err, "execute phase failed")
	}

	report.EndedAt = c.now()
	report.TotalDuration = report.EndedAt.Sub(report.StartedAt)
	report.RateLimitHeadroom = c.headroomSnapshot(ctx)

	if err := c.st.RecordCycleMetrics(ctx, toCycleMetrics(report)); err != nil {
		log.Error(err, "recording cycle metrics")
	}

	log.Info("cycle complete",
		"issues_fetched", report.IssuesFetched, "actions_planned", report.ActionsPlanned,
		"actions_completed", report.ActionsCompleted, "actions_failed", report.ActionsFailed,
		"duration", report.TotalDuration)

	return report, nil
}

// recencyGrace widens the window slightly past ingestStart so an issue
// upserted mid-sync (webhook racing the scan) is still picked up for
// detection this cycle.
const recencyGrace = 5 * time.Minute

// analyzeAll fans detection out across a bounded worker pool, batching
// issues the way automation_engine's _batch_items does, so peak goroutine
// count stays independent of max_concurrent_actions (that budget governs
// internal/execute's pool, not this one).
func (c *Controller) analyzeAll(ctx context.Context, owner, repo string, issues []domain.Issue, report *CycleReport, log logr.Logger) []plan.Input {
	var mu sync.Mutex
	inputs := make([]plan.Input, 0, len(issues))

	for _, batch := range batchIssues(issues, detectBatchSize) {
		p := pool.New().WithMaxGoroutines(detectConcurrency)
		for _, issue := range batch {
			issue := issue
			if issue.Status == domain.IssueStatusClosed {
				continue // spec.md §4.5: detection only runs against open issues
			}
			p.Go(func() {
				analyzeStart := c.now()
				result, err := c.det.Analyze(ctx, owner, repo, issue)
				duration := c.now().Sub(analyzeStart)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					report.Errors = append(report.Errors, PhaseError{Phase: "detect", Err: err})
					log.Error(err, "analyzing issue", "issue_id", issue.ID)
					return
				}

				if err := c.st.MarkIssueAnalyzed(ctx, issue.ID, duration); err != nil {
					log.Error(err, "marking issue analyzed", "issue_id", issue.ID)
				}
				if err := c.st.UpdateIssueScore(ctx, issue.ID, result.FeatureCompletionScore, result.Confidence, result.AutomationEligible); err != nil {
					log.Error(err, "updating issue score", "issue_id", issue.ID)
				}
				if len(result.Detections) > 0 {
					if err := c.st.RecordDetections(ctx, issue.ID, result.Detections); err != nil {
						log.Error(err, "recording detections", "issue_id", issue.ID)
					} else {
						report.DetectionsRecorded += len(result.Detections)
					}
				}

				report.IssuesAnalyzed++
				inputs = append(inputs, plan.Input{Issue: issue, Detection: result})
			})
		}
		p.Wait()
	}
	return inputs
}

const (
	detectBatchSize   = 100 // matches internal/ingest's per_page (defaultPerPage)
	detectConcurrency = 8
)

func batchIssues(issues []domain.Issue, size int) [][]domain.Issue {
	if size <= 0 {
		size = len(issues)
	}
	var batches [][]domain.Issue
	for start := 0; start < len(issues); start += size {
		end := start + size
		if end > len(issues) {
			end = len(issues)
		}
		batches = append(batches, issues[start:end])
	}
	return batches
}

// triggerReopenRollbacks implements the Open Question 1 resolution (see
// DESIGN.md): for each given issue that is open again while its latest
// completed close_issue action (rollback-eligible, not yet rolled back)
// completed within auto_rollback_window of now, it rolls that action back
// directly via the Executor.
func (c *Controller) triggerReopenRollbacks(ctx context.Context, issues []domain.Issue, cfg *config.Config, log logr.Logger) int {
	window := time.Duration(cfg.AutoRollbackWindowMinutes) * time.Minute
	if window <= 0 {
		return 0
	}

	triggered := 0
	for _, issue := range issues {
		if issue.Status != domain.IssueStatusOpen {
			continue
		}
		closeAction, err := c.st.LatestCompletedCloseAction(ctx, issue.ID)
		if err != nil || closeAction == nil || !closeAction.CanRollback || closeAction.RolledBack {
			continue
		}
		if closeAction.CompletedAt == nil || c.now().Sub(*closeAction.CompletedAt) > window {
			continue
		}
		if err := c.ex.Rollback(ctx, closeAction.ID, "human_reopen_detected"); err != nil {
			log.Error(err, "auto-rollback on reopen failed", "action_id", closeAction.ID, "issue_id", issue.ID)
			continue
		}
		triggered++
	}
	return triggered
}

// reapStuckActions is the backup path for the Executor's own pending-reset
// handling: it catches in_progress rows left behind by a crashed or killed
// process, the way server/poller.go's janitorSweep reconciled state a missed
// webhook would otherwise have fixed. Webhooks and the Executor's direct
// resets are the primary path; this sweep only matters when those are
// skipped entirely.
func (c *Controller) reapStuckActions(ctx context.Context, cfg *config.Config, log logr.Logger) {
	timeout := time.Duration(cfg.StuckActionTimeoutMinutes) * time.Minute
	n, err := c.st.ReapStuckActions(ctx, timeout)
	if err != nil {
		log.Error(err, "reaping stuck actions")
		return
	}
	if n > 0 {
		log.Info("reaped stuck actions", "count", n)
	}
}

// BucketHeadroom is HealthSnapshot's per-bucket rate-limit standing.
type BucketHeadroom struct {
	Remaining      int
	Limit          int
	SecondsToReset int64
}

func (c *Controller) headroomSnapshot(ctx context.Context) map[domain.RateLimitBucket]BucketHeadroom {
	snapshot := make(map[domain.RateLimitBucket]BucketHeadroom, len(allBuckets))
	for _, bucket := range allBuckets {
		sample, err := c.st.LatestRateLimitSample(ctx, bucket)
		if err != nil || sample == nil {
			continue
		}
		snapshot[bucket] = BucketHeadroom{
			Remaining:      sample.Remaining,
			Limit:          sample.Limit,
			SecondsToReset: sample.ResetTimestamp - c.now().Unix(),
		}
	}
	return snapshot
}

func toCycleMetrics(r CycleReport) store.CycleMetrics {
	headroom := make(domain.JSONBlob, len(r.RateLimitHeadroom))
	for bucket, h := range r.RateLimitHeadroom {
		headroom[string(bucket)] = map[string]any{
			"remaining": h.Remaining, "limit": h.Limit, "seconds_to_reset": h.SecondsToReset,
		}
	}
	return store.CycleMetrics{
		CycleID: r.CycleID, RepoOwner: r.RepoOwner, RepoName: r.RepoName,
		IssuesFetched: r.IssuesFetched, IssuesNew: r.IssuesNew, IssuesUpdated: r.IssuesUpdated,
		DetectionsRecorded: r.DetectionsRecorded, ActionsPlanned: r.ActionsPlanned,
		ActionsCompleted: r.ActionsCompleted, ActionsFailed: r.ActionsFailed, ActionsRolledBack: r.ActionsRolledBack,
		IngestDuration: r.IngestDuration, DetectDuration: r.DetectDuration,
		PlanDuration: r.PlanDuration, ExecuteDuration: r.ExecuteDuration, TotalDuration: r.TotalDuration,
		RateLimitHeadroom: headroom,
	}
}

// HealthSnapshot restores the original_source get_automation_health()
// operation (dropped by the distillation; supplemented per DESIGN.md): an
// operator-facing view across all tracked repositories, not scoped to one
// cycle.
type HealthSnapshot struct {
	RecentCycles      []store.CycleMetrics
	RateLimitHeadroom map[domain.RateLimitBucket]BucketHeadroom
}

// Health assembles a HealthSnapshot from the most recent automation_metrics
// rows and the live rate-limit standing.
func (c *Controller) Health(ctx context.Context, recentCycleLimit int) (HealthSnapshot, error) {
	metrics, err := c.st.RecentMetrics(ctx, recentCycleLimit)
	if err != nil {
		return HealthSnapshot{}, errors.Wrap(err, "listing recent cycle metrics")
	}
	return HealthSnapshot{
		RecentCycles:      metrics,
		RateLimitHeadroom: c.headroomSnapshot(ctx),
	}, nil
}
