package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octocrew/gh-automation-core/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestUpsertIssue_InsertsWhenNew(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, status, title, body, assignees, labels FROM github_issues`).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(`INSERT INTO github_issues`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	result, err := s.UpsertIssue(context.Background(), IssueUpsert{
		RepoOwner: "octocrew", RepoName: "core", GitHubIssueID: 42, GitHubIssueNumber: 9,
		Title: "flaky test", Status: domain.IssueStatusOpen,
		GitHubCreatedAt: time.Now(), GitHubUpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, result.WasNew)
	assert.Equal(t, int64(7), result.IssueID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertIssue_UpdatesWhenExisting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, status, title, body, assignees, labels FROM github_issues`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "title", "body", "assignees", "labels"}).
			AddRow(int64(7), "open", "old title", "body", "{}", "{}"))

	mock.ExpectExec(`UPDATE github_issues SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := s.UpsertIssue(context.Background(), IssueUpsert{
		GitHubIssueID: 42, Title: "new title", Status: domain.IssueStatusOpen,
	})
	require.NoError(t, err)
	assert.False(t, result.WasNew)
	assert.Contains(t, result.ChangedFields, "title")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWebhookEvent_IdempotentOnDelivery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, processed, automation_results FROM webhook_events`).
		WithArgs("delivery-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "processed", "automation_results"}).
			AddRow(int64(3), true, []byte(`{"actions":1}`)))

	result, err := s.UpsertWebhookEvent(context.Background(), domain.WebhookEvent{
		GitHubDeliveryID: "delivery-1", EventType: "issues",
	})
	require.NoError(t, err)
	assert.False(t, result.IsNew)
	assert.True(t, result.PriorProcessed)
	assert.Equal(t, int64(3), result.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAction_WritesOutcome(t *testing.T) {
	s, mock := newMockStore(t)
	success := true

	mock.ExpectExec(`UPDATE github_automation_actions SET`).
		WithArgs(domain.ActionStatusCompleted, &success, "", nil, nil, true, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompleteAction(context.Background(), 5, ActionOutcome{
		Status: domain.ActionStatusCompleted, Success: &success, CanRollback: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRateLimitSample(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO rate_limit_tracking`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordRateLimitSample(context.Background(), domain.RateLimitSample{
		APIEndpoint: "/repos/o/r/issues", RateLimitType: domain.BucketCore,
		Limit: 5000, Remaining: 4990, ResetTimestamp: time.Now().Unix() + 3600,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
