package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		EnableAutoClose:        true,
		EnableAutoLabel:        true,
		EnableAutoComment:      true,
		MinConfidenceAutoClose: 0.80,
		MinConfidenceAutoLabel: 0.60,
		MaxActionsPerRun:       10,
	}
}

func veryHigh() *domain.AutomationConfidence {
	c := domain.ConfidenceVeryHigh
	return &c
}

func TestPlan_EmitsCloseLabelAndComment(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	p := New(config.NewStore(testConfig()), WithClock(func() time.Time { return now }))

	issue := domain.Issue{ID: 1, Status: domain.IssueStatusOpen, GitHubUpdatedAt: now.Add(-time.Hour)}
	actions := p.Plan(context.Background(), []Input{
		{Issue: issue, Detection: detect.Result{AutomationEligible: true, Confidence: veryHigh(), FeatureCompletionScore: 0.9}},
	})

	var types []domain.ActionType
	for _, a := range actions {
		types = append(types, a.ActionType)
	}
	assert.Contains(t, types, domain.ActionTypeCloseIssue)
	assert.Contains(t, types, domain.ActionTypeLabelIssue)
	assert.Contains(t, types, domain.ActionTypeCommentIssue)
}

func TestPlan_SkipsCloseWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableAutoClose = false
	p := New(config.NewStore(cfg))

	issue := domain.Issue{ID: 1, Status: domain.IssueStatusOpen}
	actions := p.Plan(context.Background(), []Input{
		{Issue: issue, Detection: detect.Result{AutomationEligible: true, Confidence: veryHigh(), FeatureCompletionScore: 0.9}},
	})
	for _, a := range actions {
		assert.NotEqual(t, domain.ActionTypeCloseIssue, a.ActionType)
	}
}

func TestPlan_SkipsIneligibleIssues(t *testing.T) {
	p := New(config.NewStore(testConfig()))
	actions := p.Plan(context.Background(), []Input{
		{Issue: domain.Issue{ID: 1}, Detection: detect.Result{AutomationEligible: false}},
	})
	assert.Empty(t, actions)
}

func TestPlan_RespectsMaxActionsPerRun(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActionsPerRun = 1
	p := New(config.NewStore(cfg))

	var inputs []Input
	for i := 0; i < 5; i++ {
		inputs = append(inputs, Input{
			Issue:     domain.Issue{ID: int64(i + 1), Status: domain.IssueStatusOpen},
			Detection: detect.Result{AutomationEligible: true, Confidence: veryHigh(), FeatureCompletionScore: 0.9},
		})
	}
	actions := p.Plan(context.Background(), inputs)
	assert.Len(t, actions, 1)
}

func TestPlan_LabelExcludesAlreadyPresentLabels(t *testing.T) {
	p := New(config.NewStore(testConfig()))
	issue := domain.Issue{ID: 1, Status: domain.IssueStatusClosed, Labels: domain.StringList{"automation-reviewed", "likely-complete"}}
	actions := p.Plan(context.Background(), []Input{
		{Issue: issue, Detection: detect.Result{AutomationEligible: true, Confidence: veryHigh(), FeatureCompletionScore: 0.9}},
	})
	for _, a := range actions {
		require.NotEqual(t, domain.ActionTypeLabelIssue, a.ActionType, "all derived labels already present, should not emit label_issue")
	}
}

func TestPriorityScore_HigherForSecurityLabel(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	p := New(config.NewStore(testConfig()), WithClock(func() time.Time { return now }))

	plain := p.priorityScore(0.9, domain.Issue{GitHubUpdatedAt: now}, now)
	security := p.priorityScore(0.9, domain.Issue{GitHubUpdatedAt: now, Labels: domain.StringList{"security"}}, now)
	assert.Greater(t, security, plain)
}
