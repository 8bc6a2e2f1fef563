package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/ingest"
	"github.com/octocrew/gh-automation-core/internal/plan"
	"github.com/octocrew/gh-automation-core/internal/store"
)

type fakeCycleStore struct {
	issues          []domain.Issue
	createdActions  []domain.Action
	closeAction     *domain.Action
	metricsRecorded []store.CycleMetrics
}

func (f *fakeCycleStore) ListIssuesForRepo(context.Context, string, string, *time.Time) ([]domain.Issue, error) {
	return f.issues, nil
}
func (f *fakeCycleStore) MarkIssueAnalyzed(context.Context, int64, time.Duration) error { return nil }
func (f *fakeCycleStore) UpdateIssueScore(context.Context, int64, float64, *domain.AutomationConfidence, bool) error {
	return nil
}
func (f *fakeCycleStore) RecordDetections(context.Context, int64, []domain.FeatureDetection) error {
	return nil
}
func (f *fakeCycleStore) CreateAction(_ context.Context, a domain.Action) (int64, error) {
	f.createdActions = append(f.createdActions, a)
	return int64(len(f.createdActions)), nil
}
func (f *fakeCycleStore) LatestCompletedCloseAction(context.Context, int64) (*domain.Action, error) {
	return f.closeAction, nil
}
func (f *fakeCycleStore) RecordCycleMetrics(_ context.Context, m store.CycleMetrics) error {
	f.metricsRecorded = append(f.metricsRecorded, m)
	return nil
}
func (f *fakeCycleStore) RecentMetrics(context.Context, int) ([]store.CycleMetrics, error) {
	return f.metricsRecorded, nil
}
func (f *fakeCycleStore) LatestRateLimitSample(context.Context, domain.RateLimitBucket) (*domain.RateLimitSample, error) {
	return nil, nil
}
func (f *fakeCycleStore) ReapStuckActions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type fakeCycleGH struct {
	ghgateway.Client
	reopened bool
}

func (f *fakeCycleGH) ListRepositoryIssues(context.Context, string, string, *time.Time, int, int) ([]ghgateway.IssueSnapshot, bool, error) {
	return nil, false, nil
}
func (f *fakeCycleGH) ReopenIssue(context.Context, string, string, int) (ghgateway.GitHubResponse, error) {
	f.reopened = true
	return ghgateway.GitHubResponse{}, nil
}

func newController(cs *fakeCycleStore, gh ghgateway.Client, cfg *config.Config) *Controller {
	cfgStore := config.NewStore(cfg)
	ing := ingest.New(gh, &store.Store{}, cfgStore)
	det := detect.New(gh)
	pl := plan.New(cfgStore)
	return &Controller{ing: ing, det: det, pl: pl, st: cs, cfg: cfgStore, now: time.Now}
}

func TestHeadroomSnapshot_EmptyWhenNoSamples(t *testing.T) {
	cs := &fakeCycleStore{}
	c := newController(cs, &fakeCycleGH{}, &config.Config{})
	snap := c.headroomSnapshot(context.Background())
	assert.Empty(t, snap)
}

func TestTriggerReopenRollbacks_SkipsWhenWindowDisabled(t *testing.T) {
	cs := &fakeCycleStore{issues: []domain.Issue{{ID: 1, Status: domain.IssueStatusOpen}}}
	c := newController(cs, &fakeCycleGH{}, &config.Config{AutoRollbackWindowMinutes: 0})
	triggered := c.triggerReopenRollbacks(context.Background(), cs.issues, c.cfg.Get(), logr.Discard())
	assert.Equal(t, 0, triggered)
}

func TestTriggerReopenRollbacks_SkipsWhenNoCloseAction(t *testing.T) {
	cs := &fakeCycleStore{issues: []domain.Issue{{ID: 1, Status: domain.IssueStatusOpen}}, closeAction: nil}
	c := newController(cs, &fakeCycleGH{}, &config.Config{AutoRollbackWindowMinutes: 60})
	triggered := c.triggerReopenRollbacks(context.Background(), cs.issues, c.cfg.Get(), logr.Discard())
	assert.Equal(t, 0, triggered)
}

func TestTriggerReopenRollbacks_SkipsOutsideWindow(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	cs := &fakeCycleStore{
		issues:      []domain.Issue{{ID: 1, Status: domain.IssueStatusOpen}},
		closeAction: &domain.Action{ID: 10, CanRollback: true, CompletedAt: &stale},
	}
	c := newController(cs, &fakeCycleGH{}, &config.Config{AutoRollbackWindowMinutes: 30})
	triggered := c.triggerReopenRollbacks(context.Background(), cs.issues, c.cfg.Get(), logr.Discard())
	assert.Equal(t, 0, triggered)
}

func TestToCycleMetrics_CarriesHeadroom(t *testing.T) {
	r := CycleReport{
		CycleID: "abc", RepoOwner: "o", RepoName: "r",
		RateLimitHeadroom: map[domain.RateLimitBucket]BucketHeadroom{
			domain.BucketCore: {Remaining: 100, Limit: 5000, SecondsToReset: 600},
		},
	}
	m := toCycleMetrics(r)
	require.Contains(t, m.RateLimitHeadroom, "core")
}
