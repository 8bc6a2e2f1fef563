// Package store implements the Store (C3): durable persistence of issues,
// actions, detections, webhook events, and rate-limit samples, per
// spec.md §4.3. Replaces the teacher's Mattermost-plugin-KV abstraction
// (server/store/kvstore) with a sqlx+lib/pq relational store against the
// schema in internal/store/migrations, itself grounded on
// original_source/alembic/versions/002_github_automation_schema.py. The
// CRUD-plus-secondary-index shape of the teacher's kvstore is the pattern
// carried forward; the storage technology is not.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/octocrew/gh-automation-core/internal/domain"
)

// Store wraps a Postgres connection pool. Each worker holds at most one
// connection during a unit-of-work (spec.md §5).
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need the raw handle;
// Migrate's goose runner uses the same handle.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// IssueUpsert is the payload accepted by UpsertIssue — deliberately separate
// from ghgateway.IssueSnapshot so this package has no dependency on the
// gateway; internal/ingest maps between the two.
type IssueUpsert struct {
	RepoOwner         string
	RepoName          string
	GitHubIssueID     int64
	GitHubIssueNumber int
	Title             string
	Body              string
	Status            domain.IssueStatus
	Author            string
	Assignees         []string
	Labels            []string
	Milestone         *string
	GitHubCreatedAt   time.Time
	GitHubUpdatedAt   time.Time
	GitHubClosedAt    *time.Time
}

// UpsertResult reports what UpsertIssue did.
type UpsertResult struct {
	IssueID       int64
	WasNew        bool
	ChangedFields []string
}

// UpsertIssue implements spec.md §4.3's `upsert_issue`, keyed on
// github_issue_id. Idempotent: calling twice with the same snapshot yields
// the same row and WasNew=false on the second call.
func (s *Store) UpsertIssue(ctx context.Context, in IssueUpsert) (UpsertResult, error) {
	var existing struct {
		ID        int64              `db:"id"`
		Status    domain.IssueStatus `db:"status"`
		Title     string             `db:"title"`
		Body      string             `db:"body"`
		Assignees domain.StringList  `db:"assignees"`
		Labels    domain.StringList  `db:"labels"`
	}
	err := s.db.GetContext(ctx, &existing, `
		SELECT id, status, title, body, assignees, labels
		FROM github_issues WHERE github_issue_id = $1`, in.GitHubIssueID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var id int64
		insertErr := s.db.GetContext(ctx, &id, `
			INSERT INTO github_issues (
				repo_owner, repo_name, github_issue_number, github_issue_id,
				title, body, status, author, assignees, labels, milestone,
				github_created_at, github_updated_at, github_closed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING id`,
			in.RepoOwner, in.RepoName, in.GitHubIssueNumber, in.GitHubIssueID,
			in.Title, in.Body, in.Status, in.Author,
			domain.StringList(in.Assignees), domain.StringList(in.Labels), in.Milestone,
			in.GitHubCreatedAt, in.GitHubUpdatedAt, in.GitHubClosedAt,
		)
		if insertErr != nil {
			return UpsertResult{}, errors.Wrap(insertErr, "inserting issue")
		}
		return UpsertResult{IssueID: id, WasNew: true}, nil

	case err != nil:
		return UpsertResult{}, errors.Wrap(err, "looking up issue")
	}

	var changed []string
	if existing.Title != in.Title {
		changed = append(changed, "title")
	}
	if existing.Body != in.Body {
		changed = append(changed, "body")
	}
	if existing.Status != in.Status {
		changed = append(changed, "status")
	}
	if !stringSlicesEqual(existing.Assignees, in.Assignees) {
		changed = append(changed, "assignees")
	}
	if !stringSlicesEqual(existing.Labels, in.Labels) {
		changed = append(changed, "labels")
	}

	_, updateErr := s.db.ExecContext(ctx, `
		UPDATE github_issues SET
			title = $1, body = $2, status = $3, author = $4,
			assignees = $5, labels = $6, milestone = $7,
			github_updated_at = $8, github_closed_at = $9
		WHERE id = $10`,
		in.Title, in.Body, in.Status, in.Author,
		domain.StringList(in.Assignees), domain.StringList(in.Labels), in.Milestone,
		in.GitHubUpdatedAt, in.GitHubClosedAt, existing.ID,
	)
	if updateErr != nil {
		return UpsertResult{}, errors.Wrap(updateErr, "updating issue")
	}

	return UpsertResult{IssueID: existing.ID, WasNew: false, ChangedFields: changed}, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetIssue fetches a single issue by internal id.
func (s *Store) GetIssue(ctx context.Context, issueID int64) (domain.Issue, error) {
	var issue domain.Issue
	err := s.db.GetContext(ctx, &issue, `SELECT * FROM github_issues WHERE id = $1`, issueID)
	if err != nil {
		return domain.Issue{}, errors.Wrap(err, "fetching issue")
	}
	return issue, nil
}

// ListIssuesForRepo returns tracked issues for a repository, optionally
// filtered to those updated since a given time (used to scope detection).
func (s *Store) ListIssuesForRepo(ctx context.Context, owner, repo string, updatedSince *time.Time) ([]domain.Issue, error) {
	var issues []domain.Issue
	var err error
	if updatedSince != nil {
		err = s.db.SelectContext(ctx, &issues, `
			SELECT * FROM github_issues
			WHERE repo_owner = $1 AND repo_name = $2 AND github_updated_at >= $3
			ORDER BY github_updated_at DESC`, owner, repo, *updatedSince)
	} else {
		err = s.db.SelectContext(ctx, &issues, `
			SELECT * FROM github_issues WHERE repo_owner = $1 AND repo_name = $2
			ORDER BY github_updated_at DESC`, owner, repo)
	}
	if err != nil {
		return nil, errors.Wrap(err, "listing issues")
	}
	return issues, nil
}

// MarkIssueAnalyzed implements spec.md §4.3's `mark_issue_analyzed`.
func (s *Store) MarkIssueAnalyzed(ctx context.Context, issueID int64, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_issues SET
			analysis_count = analysis_count + 1,
			last_analyzed_at = now(),
			last_analysis_duration_ms = $1
		WHERE id = $2`, duration.Milliseconds(), issueID)
	return errors.Wrap(err, "marking issue analyzed")
}

// UpdateIssueScore persists the Feature Detector's aggregate outputs onto the issue row.
func (s *Store) UpdateIssueScore(ctx context.Context, issueID int64, score float64, confidence *domain.AutomationConfidence, eligible bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_issues SET
			feature_completion_score = $1, automation_confidence = $2, automation_eligible = $3
		WHERE id = $4`, score, confidence, eligible, issueID)
	return errors.Wrap(err, "updating issue score")
}

// RecordDetections implements spec.md §4.3's `record_detections` (append-only).
func (s *Store) RecordDetections(ctx context.Context, issueID int64, detections []domain.FeatureDetection) error {
	if len(detections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning detection transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range detections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feature_detections (
				issue_id, feature_name, feature_category, completion_status,
				confidence_score, detection_method, code_evidence, commit_evidence,
				test_evidence, documentation_evidence, analysis_version, false_positive_score
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			issueID, d.FeatureName, d.FeatureCategory, d.CompletionStatus,
			d.ConfidenceScore, d.DetectionMethod, d.CodeEvidence, d.CommitEvidence,
			d.TestEvidence, d.DocEvidence, d.AnalysisVersion, d.FalsePositiveScore,
		)
		if err != nil {
			return errors.Wrap(err, "inserting detection")
		}
	}
	return errors.Wrap(tx.Commit(), "committing detections")
}

// CreateAction implements spec.md §4.3's `create_action`; the action enters `pending`.
func (s *Store) CreateAction(ctx context.Context, a domain.Action) (int64, error) {
	a.Status = domain.ActionStatusPending
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO github_automation_actions (
			issue_id, action_type, status, confidence_score, priority_score,
			reasoning, evidence, max_attempts, can_rollback
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		a.IssueID, a.ActionType, a.Status, a.ConfidenceScore, a.PriorityScore,
		a.Reasoning, a.Evidence, a.MaxAttempts, a.CanRollback,
	)
	return id, errors.Wrap(err, "creating action")
}

// ClaimActions implements spec.md §4.3's `claim_actions`: atomically selects
// pending actions and marks them in_progress, ordered by
// (priority_score desc, created_at asc), skipping rows another worker has an
// advisory lock on (the issue-level mutual exclusion from spec.md §4.7/§5).
// The planner can emit more than one pending action per issue (§4.6), so
// candidates are first narrowed to at most one action per issue_id —
// otherwise two actions for the same issue could both be claimed by this
// same batch and run concurrently in internal/execute's pool, which the
// advisory lock (reentrant within one transaction, and released at commit
// anyway) does nothing to prevent.
func (s *Store) ClaimActions(ctx context.Context, limit int) ([]domain.Action, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning claim transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var actions []domain.Action
	err = tx.SelectContext(ctx, &actions, `
		WITH candidates AS (
			SELECT DISTINCT ON (issue_id) id
			FROM github_automation_actions
			WHERE status = 'pending'
			ORDER BY issue_id, priority_score DESC, created_at ASC
		)
		SELECT a.* FROM github_automation_actions a
		WHERE a.id IN (SELECT id FROM candidates)
		  AND pg_try_advisory_xact_lock(a.issue_id)
		ORDER BY a.priority_score DESC, a.created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "selecting claimable actions")
	}
	if len(actions) == 0 {
		return nil, errors.Wrap(tx.Commit(), "committing empty claim")
	}

	ids := make([]int64, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE github_automation_actions SET status = 'in_progress', started_at = now()
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "marking actions in_progress")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing claim")
	}
	for i := range actions {
		actions[i].Status = domain.ActionStatusInProgress
	}
	return actions, nil
}

// ActionOutcome is the terminal (or retry-intermediate) state written by
// CompleteAction.
type ActionOutcome struct {
	Status         domain.ActionStatus
	Success        *bool
	ErrorMessage   string
	GitHubResponse domain.JSONBlob
	RollbackData   domain.JSONBlob
	CanRollback    bool
}

// CompleteAction implements spec.md §4.3's `complete_action`: writes final
// status, completed_at, duration, github_response, rollback_data, success,
// error_message.
func (s *Store) CompleteAction(ctx context.Context, actionID int64, outcome ActionOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_automation_actions SET
			status = $1, success = $2, error_message = $3,
			github_response = $4, rollback_data = $5, can_rollback = $6,
			completed_at = now(),
			duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
		WHERE id = $7`,
		outcome.Status, outcome.Success, outcome.ErrorMessage,
		outcome.GitHubResponse, outcome.RollbackData, outcome.CanRollback, actionID,
	)
	return errors.Wrap(err, "completing action")
}

// RetryAction increments execution_attempts and returns the action to
// pending (picked up again next claim) or in_progress per the caller's
// chosen state machine step.
func (s *Store) RetryAction(ctx context.Context, actionID int64, nextStatus domain.ActionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_automation_actions SET
			status = $1, execution_attempts = execution_attempts + 1
		WHERE id = $2`, nextStatus, actionID)
	return errors.Wrap(err, "retrying action")
}

// DeferAction resets a claimed action back to pending without counting it as
// an execution attempt, for the rate-limit-ceiling and context-cancellation
// paths where the executor never actually reached GitHub (spec.md §4.7 step
// 3: "action remains pending for next cycle"). Distinct from RetryAction,
// which is for transient-error retries and does consume an attempt.
func (s *Store) DeferAction(ctx context.Context, actionID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_automation_actions SET status = 'pending'
		WHERE id = $1`, actionID)
	return errors.Wrap(err, "deferring action")
}

// ReapStuckActions resets in_progress actions whose started_at predates
// olderThan back to pending. This is the backup path for the Executor's own
// ceiling/cancellation handling (which resets to pending directly) — it
// catches rows left in_progress by a crashed or killed process, the way
// janitorSweep reconciles state a missed webhook would otherwise have fixed.
func (s *Store) ReapStuckActions(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE github_automation_actions
		SET status = 'pending'
		WHERE status = 'in_progress' AND started_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "reaping stuck actions")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "counting reaped actions")
}

// GetAction fetches a single action by id, used by rollback and the operator API.
func (s *Store) GetAction(ctx context.Context, actionID int64) (domain.Action, error) {
	var a domain.Action
	err := s.db.GetContext(ctx, &a, `SELECT * FROM github_automation_actions WHERE id = $1`, actionID)
	return a, errors.Wrap(err, "fetching action")
}

// MarkRolledBack records a successful rollback.
func (s *Store) MarkRolledBack(ctx context.Context, actionID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE github_automation_actions SET
			status = 'rolled_back', rolled_back = TRUE, rollback_reason = $1
		WHERE id = $2`, reason, actionID)
	return errors.Wrap(err, "marking action rolled back")
}

// LatestCompletedCloseAction finds the most recent completed close_issue
// action for an issue, used by the automatic-rollback-on-reopen trigger
// (DESIGN.md open-question 1 resolution).
func (s *Store) LatestCompletedCloseAction(ctx context.Context, issueID int64) (*domain.Action, error) {
	var a domain.Action
	err := s.db.GetContext(ctx, &a, `
		SELECT * FROM github_automation_actions
		WHERE issue_id = $1 AND action_type = 'close_issue' AND status = 'completed'
		ORDER BY completed_at DESC LIMIT 1`, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching latest close action")
	}
	return &a, nil
}

// WebhookUpsertResult reports whether a delivery was new.
type WebhookUpsertResult struct {
	EventID int64
	IsNew   bool
	// PriorResult is populated when IsNew is false with the previously stored
	// automation_results blob, for exactly-once semantics toward consumers.
	PriorResult domain.JSONBlob
	PriorProcessed bool
}

// UpsertWebhookEvent implements spec.md §4.3's `upsert_webhook_event`,
// idempotent on delivery id.
func (s *Store) UpsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) (WebhookUpsertResult, error) {
	var existing struct {
		ID                int64           `db:"id"`
		Processed         bool            `db:"processed"`
		AutomationResults domain.JSONBlob `db:"automation_results"`
	}
	err := s.db.GetContext(ctx, &existing, `
		SELECT id, processed, automation_results FROM webhook_events WHERE github_delivery_id = $1`,
		ev.GitHubDeliveryID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var id int64
		insertErr := s.db.GetContext(ctx, &id, `
			INSERT INTO webhook_events (
				github_delivery_id, event_type, action, repo_owner, repo_name, payload, headers
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id`,
			ev.GitHubDeliveryID, ev.EventType, ev.Action, ev.RepoOwner, ev.RepoName, ev.Payload, ev.Headers,
		)
		if insertErr != nil {
			return WebhookUpsertResult{}, errors.Wrap(insertErr, "inserting webhook event")
		}
		return WebhookUpsertResult{EventID: id, IsNew: true}, nil
	case err != nil:
		return WebhookUpsertResult{}, errors.Wrap(err, "looking up webhook event")
	}

	return WebhookUpsertResult{
		EventID:        existing.ID,
		IsNew:          false,
		PriorResult:    existing.AutomationResults,
		PriorProcessed: existing.Processed,
	}, nil
}

// CompleteWebhookEvent writes the processing outcome onto the webhook event row.
func (s *Store) CompleteWebhookEvent(ctx context.Context, eventID int64, processingErr string, triggeredActions int, results domain.JSONBlob, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			processed = ($2 = ''), processed_at = now(), processing_duration_ms = $1,
			processing_error = $2, triggered_actions = $3, automation_results = $4
		WHERE id = $5`, duration.Milliseconds(), processingErr, triggeredActions, results, eventID)
	return errors.Wrap(err, "completing webhook event")
}

// ListUnprocessedWebhookEvents supports the reaper mentioned in spec.md §4.4:
// "If the first attempt failed mid-flight, the event remains processed=false
// and will be retried on next receipt or by a reaper."
func (s *Store) ListUnprocessedWebhookEvents(ctx context.Context, olderThan time.Duration) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM webhook_events
		WHERE processed = FALSE AND received_at < now() - $1 * interval '1 second'
		ORDER BY received_at ASC`, olderThan.Seconds())
	return events, errors.Wrap(err, "listing unprocessed webhook events")
}

// RecordRateLimitSample implements spec.md §4.3's `record_rate_limit_sample`
// (append-only). Also implements ghgateway.SampleRecorder.
func (s *Store) RecordRateLimitSample(ctx context.Context, sample domain.RateLimitSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_tracking (
			api_endpoint, rate_limit_type, limit_value, remaining, reset_timestamp,
			used, request_url, response_status, request_duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sample.APIEndpoint, sample.RateLimitType, sample.Limit, sample.Remaining, sample.ResetTimestamp,
		sample.Limit-sample.Remaining, sample.RequestURL, sample.ResponseStatus, sample.RequestDuration.Milliseconds(),
	)
	return errors.Wrap(err, "recording rate limit sample")
}

// LatestRateLimitSample returns the most recent sample per bucket, used to
// rehydrate the Rate Budget on restart (spec.md §3.2).
func (s *Store) LatestRateLimitSample(ctx context.Context, bucket domain.RateLimitBucket) (*domain.RateLimitSample, error) {
	var sample domain.RateLimitSample
	err := s.db.GetContext(ctx, &sample, `
		SELECT * FROM rate_limit_tracking WHERE rate_limit_type = $1
		ORDER BY recorded_at DESC LIMIT 1`, bucket)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &sample, errors.Wrap(err, "fetching latest rate limit sample")
}

// CycleMetrics is the row recorded at the end of every run_cycle into the
// restored automation_metrics table (see DESIGN.md, supplemented from
// original_source/).
type CycleMetrics struct {
	CycleID            string
	RepoOwner          string
	RepoName           string
	IssuesFetched      int
	IssuesNew          int
	IssuesUpdated      int
	DetectionsRecorded int
	ActionsPlanned     int
	ActionsCompleted   int
	ActionsFailed      int
	ActionsRolledBack  int
	IngestDuration     time.Duration
	DetectDuration     time.Duration
	PlanDuration       time.Duration
	ExecuteDuration    time.Duration
	TotalDuration      time.Duration
	RateLimitHeadroom  domain.JSONBlob
}

// RecordCycleMetrics persists a CycleReport into automation_metrics.
func (s *Store) RecordCycleMetrics(ctx context.Context, m CycleMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_metrics (
			cycle_id, repo_owner, repo_name, issues_fetched, issues_new, issues_updated,
			detections_recorded, actions_planned, actions_completed, actions_failed, actions_rolled_back,
			ingest_duration_ms, detect_duration_ms, plan_duration_ms, execute_duration_ms, total_duration_ms,
			rate_limit_headroom
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		m.CycleID, m.RepoOwner, m.RepoName, m.IssuesFetched, m.IssuesNew, m.IssuesUpdated,
		m.DetectionsRecorded, m.ActionsPlanned, m.ActionsCompleted, m.ActionsFailed, m.ActionsRolledBack,
		m.IngestDuration.Milliseconds(), m.DetectDuration.Milliseconds(), m.PlanDuration.Milliseconds(),
		m.ExecuteDuration.Milliseconds(), m.TotalDuration.Milliseconds(), m.RateLimitHeadroom,
	)
	return errors.Wrap(err, "recording cycle metrics")
}

// GetCycleMetricsByID fetches a single automation_metrics row by cycle_id,
// used by the operator API's GET /api/v1/cycles/{id}.
func (s *Store) GetCycleMetricsByID(ctx context.Context, cycleID string) (*CycleMetrics, error) {
	var row struct {
		CycleID            string          `db:"cycle_id"`
		RepoOwner          string          `db:"repo_owner"`
		RepoName           string          `db:"repo_name"`
		IssuesFetched      int             `db:"issues_fetched"`
		IssuesNew          int             `db:"issues_new"`
		IssuesUpdated      int             `db:"issues_updated"`
		DetectionsRecorded int             `db:"detections_recorded"`
		ActionsPlanned     int             `db:"actions_planned"`
		ActionsCompleted   int             `db:"actions_completed"`
		ActionsFailed      int             `db:"actions_failed"`
		ActionsRolledBack  int             `db:"actions_rolled_back"`
		IngestDurationMS   int64           `db:"ingest_duration_ms"`
		DetectDurationMS   int64           `db:"detect_duration_ms"`
		PlanDurationMS     int64           `db:"plan_duration_ms"`
		ExecuteDurationMS  int64           `db:"execute_duration_ms"`
		TotalDurationMS    int64           `db:"total_duration_ms"`
		RateLimitHeadroom  domain.JSONBlob `db:"rate_limit_headroom"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT cycle_id, repo_owner, repo_name, issues_fetched, issues_new, issues_updated,
			detections_recorded, actions_planned, actions_completed, actions_failed, actions_rolled_back,
			ingest_duration_ms, detect_duration_ms, plan_duration_ms, execute_duration_ms, total_duration_ms,
			rate_limit_headroom
		FROM automation_metrics WHERE cycle_id = $1`, cycleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching cycle metrics by id")
	}
	return &CycleMetrics{
		CycleID: row.CycleID, RepoOwner: row.RepoOwner, RepoName: row.RepoName,
		IssuesFetched: row.IssuesFetched, IssuesNew: row.IssuesNew, IssuesUpdated: row.IssuesUpdated,
		DetectionsRecorded: row.DetectionsRecorded, ActionsPlanned: row.ActionsPlanned,
		ActionsCompleted: row.ActionsCompleted, ActionsFailed: row.ActionsFailed, ActionsRolledBack: row.ActionsRolledBack,
		IngestDuration: time.Duration(row.IngestDurationMS) * time.Millisecond,
		DetectDuration: time.Duration(row.DetectDurationMS) * time.Millisecond,
		PlanDuration:   time.Duration(row.PlanDurationMS) * time.Millisecond,
		ExecuteDuration: time.Duration(row.ExecuteDurationMS) * time.Millisecond,
		TotalDuration:   time.Duration(row.TotalDurationMS) * time.Millisecond,
		RateLimitHeadroom: row.RateLimitHeadroom,
	}, nil
}

// RecentMetrics returns the most recent automation_metrics rows across all
// repositories, feeding the restored get_automation_health() operator view.
func (s *Store) RecentMetrics(ctx context.Context, limit int) ([]CycleMetrics, error) {
	type row struct {
		CycleID            string          `db:"cycle_id"`
		RepoOwner          string          `db:"repo_owner"`
		RepoName           string          `db:"repo_name"`
		IssuesFetched      int             `db:"issues_fetched"`
		IssuesNew          int             `db:"issues_new"`
		IssuesUpdated      int             `db:"issues_updated"`
		DetectionsRecorded int             `db:"detections_recorded"`
		ActionsPlanned     int             `db:"actions_planned"`
		ActionsCompleted   int             `db:"actions_completed"`
		ActionsFailed      int             `db:"actions_failed"`
		ActionsRolledBack  int             `db:"actions_rolled_back"`
		TotalDurationMS    int64           `db:"total_duration_ms"`
		RateLimitHeadroom  domain.JSONBlob `db:"rate_limit_headroom"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT cycle_id, repo_owner, repo_name, issues_fetched, issues_new, issues_updated,
			detections_recorded, actions_planned, actions_completed, actions_failed, actions_rolled_back,
			total_duration_ms, rate_limit_headroom
		FROM automation_metrics ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing recent metrics")
	}
	out := make([]CycleMetrics, 0, len(rows))
	for _, r := range rows {
		out = append(out, CycleMetrics{
			CycleID: r.CycleID, RepoOwner: r.RepoOwner, RepoName: r.RepoName,
			IssuesFetched: r.IssuesFetched, IssuesNew: r.IssuesNew, IssuesUpdated: r.IssuesUpdated,
			DetectionsRecorded: r.DetectionsRecorded, ActionsPlanned: r.ActionsPlanned,
			ActionsCompleted: r.ActionsCompleted, ActionsFailed: r.ActionsFailed, ActionsRolledBack: r.ActionsRolledBack,
			TotalDuration: time.Duration(r.TotalDurationMS) * time.Millisecond,
			RateLimitHeadroom: r.RateLimitHeadroom,
		})
	}
	return out, nil
}
