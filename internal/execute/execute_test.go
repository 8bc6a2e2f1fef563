package execute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/store"
)

type fakeStore struct {
	issues       map[int64]domain.Issue
	actions      map[int64]domain.Action
	completed    map[int64]store.ActionOutcome
	retried      int
	deferred     int
	rolledBack   map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		issues:     map[int64]domain.Issue{},
		actions:    map[int64]domain.Action{},
		completed:  map[int64]store.ActionOutcome{},
		rolledBack: map[int64]string{},
	}
}

func (f *fakeStore) ClaimActions(context.Context, int) ([]domain.Action, error) { return nil, nil }

func (f *fakeStore) CompleteAction(_ context.Context, actionID int64, outcome store.ActionOutcome) error {
	f.completed[actionID] = outcome
	a := f.actions[actionID]
	a.Status = outcome.Status
	a.RollbackData = outcome.RollbackData
	f.actions[actionID] = a
	return nil
}

func (f *fakeStore) RetryAction(_ context.Context, actionID int64, nextStatus domain.ActionStatus) error {
	f.retried++
	return nil
}

func (f *fakeStore) DeferAction(_ context.Context, actionID int64) error {
	f.deferred++
	a := f.actions[actionID]
	a.Status = domain.ActionStatusPending
	f.actions[actionID] = a
	return nil
}

func (f *fakeStore) GetIssue(_ context.Context, issueID int64) (domain.Issue, error) {
	return f.issues[issueID], nil
}

func (f *fakeStore) GetAction(_ context.Context, actionID int64) (domain.Action, error) {
	return f.actions[actionID], nil
}

func (f *fakeStore) MarkRolledBack(_ context.Context, actionID int64, reason string) error {
	f.rolledBack[actionID] = reason
	a := f.actions[actionID]
	a.Status = domain.ActionStatusRolledBack
	f.actions[actionID] = a
	return nil
}

type fakeGH struct {
	ghgateway.Client
	closeErr   error
	addLabelsErr error
	commentID  int64
	reopened   bool
	labelsRemoved []string
}

func (f *fakeGH) CloseIssue(context.Context, string, string, int) (ghgateway.GitHubResponse, error) {
	return ghgateway.GitHubResponse{StatusCode: 200}, f.closeErr
}

func (f *fakeGH) ReopenIssue(context.Context, string, string, int) (ghgateway.GitHubResponse, error) {
	f.reopened = true
	return ghgateway.GitHubResponse{StatusCode: 200}, nil
}

func (f *fakeGH) AddLabels(context.Context, string, string, int, []string) (ghgateway.GitHubResponse, error) {
	return ghgateway.GitHubResponse{StatusCode: 200}, f.addLabelsErr
}

func (f *fakeGH) RemoveLabels(_ context.Context, _, _ string, _ int, labels []string) (ghgateway.GitHubResponse, error) {
	f.labelsRemoved = labels
	return ghgateway.GitHubResponse{StatusCode: 200}, nil
}

func (f *fakeGH) AddComment(context.Context, string, string, int, string) (ghgateway.GitHubResponse, error) {
	return ghgateway.GitHubResponse{StatusCode: 201, CommentID: f.commentID}, nil
}

func (f *fakeGH) DeleteComment(context.Context, string, string, int64) (ghgateway.GitHubResponse, error) {
	return ghgateway.GitHubResponse{StatusCode: 204}, nil
}

func testExecutor(st actionStore, gh ghgateway.Client) *Executor {
	cfg := config.NewStore(&config.Config{MaxConcurrentActions: 2, ActionMaxAttempts: 3, BackoffBaseSeconds: 1, BackoffCapSeconds: 2})
	return &Executor{gh: gh, st: st, cfg: cfg, now: time.Now}
}

func TestExecute_CloseIssueSuccess(t *testing.T) {
	fs := newFakeStore()
	fs.issues[1] = domain.Issue{ID: 1, Status: domain.IssueStatusOpen, RepoOwner: "o", RepoName: "r", GitHubIssueNumber: 7}
	e := testExecutor(fs, &fakeGH{})

	action := domain.Action{ID: 10, IssueID: 1, ActionType: domain.ActionTypeCloseIssue, MaxAttempts: 3, CanRollback: true}
	outcome := e.execute(context.Background(), action)

	assert.Equal(t, domain.ActionStatusCompleted, outcome.Status)
	assert.NoError(t, outcome.Err)
}

func TestExecute_ClosePreconditionFailsWhenAlreadyClosed(t *testing.T) {
	fs := newFakeStore()
	fs.issues[1] = domain.Issue{ID: 1, Status: domain.IssueStatusClosed}
	e := testExecutor(fs, &fakeGH{})

	action := domain.Action{ID: 10, IssueID: 1, ActionType: domain.ActionTypeCloseIssue, MaxAttempts: 3}
	outcome := e.execute(context.Background(), action)

	assert.Equal(t, domain.ActionStatusCancelled, outcome.Status)
}

func TestExecute_PermanentErrorFails(t *testing.T) {
	fs := newFakeStore()
	fs.issues[1] = domain.Issue{ID: 1, Status: domain.IssueStatusOpen}
	e := testExecutor(fs, &fakeGH{closeErr: &ghgateway.PermanentError{StatusCode: 404}})

	action := domain.Action{ID: 10, IssueID: 1, ActionType: domain.ActionTypeCloseIssue, MaxAttempts: 3}
	outcome := e.execute(context.Background(), action)

	assert.Equal(t, domain.ActionStatusFailed, outcome.Status)
}

func TestRollback_CloseIssueReopens(t *testing.T) {
	fs := newFakeStore()
	fs.issues[1] = domain.Issue{ID: 1, RepoOwner: "o", RepoName: "r", GitHubIssueNumber: 7}
	fs.actions[10] = domain.Action{ID: 10, IssueID: 1, ActionType: domain.ActionTypeCloseIssue, Status: domain.ActionStatusCompleted, CanRollback: true}
	gh := &fakeGH{}
	e := testExecutor(fs, gh)

	err := e.Rollback(context.Background(), 10, "human_reopen_detected")
	require.NoError(t, err)
	assert.True(t, gh.reopened)
	assert.Equal(t, "human_reopen_detected", fs.rolledBack[10])
}

func TestRollback_RejectsNonCompletedAction(t *testing.T) {
	fs := newFakeStore()
	fs.actions[10] = domain.Action{ID: 10, Status: domain.ActionStatusPending, CanRollback: true}
	e := testExecutor(fs, &fakeGH{})

	err := e.Rollback(context.Background(), 10, "operator_request")
	require.Error(t, err)
	var rollbackErr *ghgateway.RollbackUnavailableError
	assert.ErrorAs(t, err, &rollbackErr)
}

func TestRollback_LabelIssueRemovesAddedLabels(t *testing.T) {
	fs := newFakeStore()
	fs.issues[1] = domain.Issue{ID: 1}
	fs.actions[10] = domain.Action{
		ID: 10, IssueID: 1, ActionType: domain.ActionTypeLabelIssue, Status: domain.ActionStatusCompleted,
		CanRollback: true, RollbackData: domain.JSONBlob{"labels_added": []any{"likely-complete"}},
	}
	gh := &fakeGH{}
	e := testExecutor(fs, gh)

	err := e.Rollback(context.Background(), 10, "operator_request")
	require.NoError(t, err)
	assert.Equal(t, []string{"likely-complete"}, gh.labelsRemoved)
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	cfg := &config.Config{BackoffBaseSeconds: 2, BackoffCapSeconds: 60}
	d1 := backoffDelay(cfg, 1)
	d5 := backoffDelay(cfg, 5)
	assert.LessOrEqual(t, d1, 3*time.Second) // base=2s +/-20%
	assert.LessOrEqual(t, d5, 60*time.Second)
}

func TestPreconditionFailure_LabelAlreadyPresent(t *testing.T) {
	action := domain.Action{ActionType: domain.ActionTypeLabelIssue, Evidence: domain.JSONBlob{"proposed_labels": []any{"bug"}}}
	issue := domain.Issue{Labels: domain.StringList{"bug"}}
	_, failed := preconditionFailure(action, issue)
	assert.True(t, failed)
}
