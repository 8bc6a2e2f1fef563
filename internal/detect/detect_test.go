package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
)

type fakeGH struct {
	ghgateway.Client
	comments []ghgateway.IssueComment
	commits  []ghgateway.CommitReference
	files    map[string][]ghgateway.ChangedFile
}

func (f *fakeGH) ListIssueComments(context.Context, string, string, int) ([]ghgateway.IssueComment, error) {
	return f.comments, nil
}

func (f *fakeGH) ListCommitsReferencingIssue(context.Context, string, string, int) ([]ghgateway.CommitReference, error) {
	return f.commits, nil
}

func (f *fakeGH) ListCommitFiles(_ context.Context, _, _, sha string) ([]ghgateway.ChangedFile, error) {
	return f.files[sha], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAnalyze_VeryHighConfidenceOnStrongEvidence(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	gh := &fakeGH{
		commits: []ghgateway.CommitReference{{SHA: "abc", Message: "fixes #3"}},
		files: map[string][]ghgateway.ChangedFile{
			"abc": {
				{Path: "internal/foo.go", Status: "modified"},
				{Path: "internal/foo_test.go", Status: "added"},
				{Path: "internal/bar.go", Status: "modified"},
				{Path: "internal/baz.go", Status: "modified"},
				{Path: "docs/foo.md", Status: "added"},
			},
		},
	}
	d := New(gh, WithClock(fixedClock(now)))

	issue := domain.Issue{ID: 1, GitHubIssueNumber: 3, GitHubUpdatedAt: now.Add(-time.Hour)}
	result, err := d.Analyze(context.Background(), "o", "r", issue)
	require.NoError(t, err)

	assert.True(t, result.AutomationEligible)
	assert.GreaterOrEqual(t, result.FeatureCompletionScore, 0.85)
	assert.Equal(t, domain.ConfidenceVeryHigh, *result.Confidence)
	require.Len(t, result.Detections, 1)
}

func TestAnalyze_DoNotAutomateLabelDisqualifies(t *testing.T) {
	d := New(&fakeGH{})
	issue := domain.Issue{ID: 1, Labels: domain.StringList{"do-not-automate"}}
	result, err := d.Analyze(context.Background(), "o", "r", issue)
	require.NoError(t, err)
	assert.False(t, result.AutomationEligible)
	assert.Empty(t, result.Detections)
}

func TestAnalyze_RecentHoldRequestDisqualifies(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	gh := &fakeGH{
		comments: []ghgateway.IssueComment{
			{Author: "alice", Body: "please hold off on this", CreatedAt: now.Add(-time.Hour)},
		},
	}
	d := New(gh, WithClock(fixedClock(now)))
	issue := domain.Issue{ID: 1, Assignees: domain.StringList{"alice"}}

	result, err := d.Analyze(context.Background(), "o", "r", issue)
	require.NoError(t, err)
	assert.False(t, result.AutomationEligible)
}

func TestAnalyze_RecentAssigneeDisputeDisqualifies(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	gh := &fakeGH{
		comments: []ghgateway.IssueComment{
			{Author: "alice", Body: "not done, reopening soon", CreatedAt: now.Add(-time.Hour)},
		},
	}
	d := New(gh, WithClock(fixedClock(now)))
	issue := domain.Issue{ID: 1, Assignees: domain.StringList{"alice"}}

	result, err := d.Analyze(context.Background(), "o", "r", issue)
	require.NoError(t, err)
	assert.False(t, result.AutomationEligible)
}

func TestAnalyze_DisputeCommentElevatesFalsePositive(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	gh := &fakeGH{
		comments: []ghgateway.IssueComment{{Author: "bob", Body: "still broken for me"}},
	}
	d := New(gh, WithClock(fixedClock(now)))
	issue := domain.Issue{ID: 1}

	result, err := d.Analyze(context.Background(), "o", "r", issue)
	require.NoError(t, err)
	assert.Greater(t, result.FalsePositiveScore, 0.0)
}

func TestConfidenceFor(t *testing.T) {
	cases := []struct {
		score, fp float64
		want      domain.AutomationConfidence
	}{
		{0.9, 0.1, domain.ConfidenceVeryHigh},
		{0.9, 0.5, domain.ConfidenceHigh},
		{0.75, 0, domain.ConfidenceHigh},
		{0.55, 0, domain.ConfidenceMedium},
		{0.2, 0, domain.ConfidenceLow},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, confidenceFor(c.score, c.fp))
	}
}

func TestWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	sum := w.CodeEvidence + w.TestEvidence + w.CommitEvidence + w.DocEvidence + w.LifecycleEvidence
	assert.InDelta(t, 1.0, sum, 0.0001)
}
