// Package domain defines the entities shared across every component: Issue,
// Action, FeatureDetection, WebhookEvent, and RateLimitSample, exactly as
// specified in spec.md §3. Persistence lives in internal/store; this package
// holds only the shapes and the enum closed-sets.
package domain

import "time"

// IssueStatus is the closed set of GitHub issue states the core tracks.
type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "open"
	IssueStatusClosed IssueStatus = "closed"
	IssueStatusDraft  IssueStatus = "draft"
)

// AutomationConfidence is the categorical projection of FeatureCompletionScore.
type AutomationConfidence string

const (
	ConfidenceLow       AutomationConfidence = "low"
	ConfidenceMedium    AutomationConfidence = "medium"
	ConfidenceHigh      AutomationConfidence = "high"
	ConfidenceVeryHigh  AutomationConfidence = "very_high"
)

// Issue is the core's view of a tracked GitHub issue.
type Issue struct {
	ID                     int64                `db:"id" json:"id"`
	RepoOwner              string               `db:"repo_owner" json:"repo_owner"`
	RepoName               string               `db:"repo_name" json:"repo_name"`
	GitHubIssueNumber      int                  `db:"github_issue_number" json:"github_issue_number"`
	GitHubIssueID          int64                `db:"github_issue_id" json:"github_issue_id"`
	Title                  string               `db:"title" json:"title"`
	Body                   string               `db:"body" json:"body"`
	Status                 IssueStatus          `db:"status" json:"status"`
	Author                 string               `db:"author" json:"author"`
	Assignees              StringList           `db:"assignees" json:"assignees"`
	Labels                 StringList           `db:"labels" json:"labels"`
	Milestone              *string              `db:"milestone" json:"milestone,omitempty"`
	AutomationEligible     bool                 `db:"automation_eligible" json:"automation_eligible"`
	AutomationConfidence   *AutomationConfidence `db:"automation_confidence" json:"automation_confidence,omitempty"`
	FeatureCompletionScore float64              `db:"feature_completion_score" json:"feature_completion_score"`
	GitHubCreatedAt        time.Time            `db:"github_created_at" json:"github_created_at"`
	GitHubUpdatedAt        time.Time            `db:"github_updated_at" json:"github_updated_at"`
	GitHubClosedAt         *time.Time           `db:"github_closed_at" json:"github_closed_at,omitempty"`
	FirstDetectedAt        time.Time            `db:"first_detected_at" json:"first_detected_at"`
	LastAnalyzedAt         *time.Time           `db:"last_analyzed_at" json:"last_analyzed_at,omitempty"`
	AnalysisCount          int                  `db:"analysis_count" json:"analysis_count"`
	LastAnalysisDuration   *time.Duration       `db:"last_analysis_duration_ms" json:"last_analysis_duration,omitempty"`
}

// HasLabel reports whether the issue carries the given label (case-sensitive,
// matching GitHub's own label-name semantics).
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ActionType is the closed set of mutation kinds the planner can emit.
type ActionType string

const (
	ActionTypeCloseIssue     ActionType = "close_issue"
	ActionTypeUpdateIssue    ActionType = "update_issue"
	ActionTypeCreateIssue    ActionType = "create_issue"
	ActionTypeLabelIssue     ActionType = "label_issue"
	ActionTypeAssignIssue    ActionType = "assign_issue"
	ActionTypeMilestoneIssue ActionType = "milestone_issue"
	ActionTypeCommentIssue   ActionType = "comment_issue"
)

// ActionStatus is the closed set of states in the executor's state machine
// (spec.md §4.7).
type ActionStatus string

const (
	ActionStatusPending     ActionStatus = "pending"
	ActionStatusInProgress  ActionStatus = "in_progress"
	ActionStatusCompleted   ActionStatus = "completed"
	ActionStatusFailed      ActionStatus = "failed"
	ActionStatusRolledBack  ActionStatus = "rolled_back"
	ActionStatusCancelled   ActionStatus = "cancelled"
)

// Terminal reports whether a status ends execution (completed, failed,
// rolled_back, cancelled). A completed action can still move to rolled_back.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusRolledBack, ActionStatusCancelled:
		return true
	default:
		return false
	}
}

// validActionTransitions enumerates the monotone transitions allowed by
// spec.md §4.7's state machine. Used by the store to enforce the invariant
// "action status transitions are monotone per §4.7".
var validActionTransitions = map[ActionStatus]map[ActionStatus]bool{
	ActionStatusPending: {ActionStatusInProgress: true, ActionStatusCancelled: true},
	ActionStatusInProgress: {
		ActionStatusInProgress: true, ActionStatusCompleted: true, ActionStatusFailed: true,
		ActionStatusCancelled: true, ActionStatusPending: true, // ceiling hit / cancelled mid-attempt: deferred to next cycle
	},
	ActionStatusCompleted: {ActionStatusRolledBack: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// transition under the state machine in spec.md §4.7.
func CanTransition(from, to ActionStatus) bool {
	if from == to {
		return from == ActionStatusInProgress // retries re-enter in_progress
	}
	allowed, ok := validActionTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Action is a single planned (and eventually executed) mutation on GitHub.
type Action struct {
	ID                    int64          `db:"id" json:"id"`
	IssueID               int64          `db:"issue_id" json:"issue_id"`
	ActionType            ActionType     `db:"action_type" json:"action_type"`
	Status                ActionStatus   `db:"status" json:"status"`
	ConfidenceScore        float64        `db:"confidence_score" json:"confidence_score"`
	PriorityScore          float64        `db:"priority_score" json:"priority_score"`
	Reasoning              string         `db:"reasoning" json:"reasoning"`
	Evidence               JSONBlob       `db:"evidence" json:"evidence,omitempty"`
	ExecutionAttempts      int            `db:"execution_attempts" json:"execution_attempts"`
	MaxAttempts            int            `db:"max_attempts" json:"max_attempts"`
	APICallsUsed           int            `db:"api_calls_used" json:"api_calls_used"`
	RateLimitRemainingSeen *int           `db:"rate_limit_remaining_seen" json:"rate_limit_remaining_seen,omitempty"`
	Success                *bool          `db:"success" json:"success,omitempty"`
	ErrorMessage           string         `db:"error_message" json:"error_message,omitempty"`
	GitHubResponse         JSONBlob       `db:"github_response" json:"github_response,omitempty"`
	RollbackData           JSONBlob       `db:"rollback_data" json:"rollback_data,omitempty"`
	CanRollback            bool           `db:"can_rollback" json:"can_rollback"`
	RolledBack             bool           `db:"rolled_back" json:"rolled_back"`
	RollbackReason         string         `db:"rollback_reason" json:"rollback_reason,omitempty"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	StartedAt              *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt            *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	Duration               *time.Duration `db:"duration_ms" json:"duration,omitempty"`
}

// FeatureCompletionStatus is the closed set of per-feature completion states.
type FeatureCompletionStatus string

const (
	FeatureNotStarted FeatureCompletionStatus = "not_started"
	FeatureInProgress FeatureCompletionStatus = "in_progress"
	FeatureCompleted  FeatureCompletionStatus = "completed"
	FeatureVerified   FeatureCompletionStatus = "verified"
)

// FeatureDetection is a single scored observation produced by the detector.
type FeatureDetection struct {
	ID                int64     `db:"id" json:"id"`
	IssueID           int64     `db:"issue_id" json:"issue_id"`
	FeatureName       string    `db:"feature_name" json:"feature_name"`
	FeatureCategory   string    `db:"feature_category" json:"feature_category"`
	CompletionStatus  FeatureCompletionStatus `db:"completion_status" json:"completion_status"`
	ConfidenceScore   float64   `db:"confidence_score" json:"confidence_score"`
	DetectionMethod   string    `db:"detection_method" json:"detection_method"`
	CodeEvidence      JSONBlob  `db:"code_evidence" json:"code_evidence,omitempty"`
	CommitEvidence    JSONBlob  `db:"commit_evidence" json:"commit_evidence,omitempty"`
	TestEvidence      JSONBlob  `db:"test_evidence" json:"test_evidence,omitempty"`
	DocEvidence       JSONBlob  `db:"documentation_evidence" json:"documentation_evidence,omitempty"`
	AnalysisVersion   int       `db:"analysis_version" json:"analysis_version"`
	FalsePositiveScore float64  `db:"false_positive_score" json:"false_positive_score"`
	DetectedAt        time.Time `db:"detected_at" json:"detected_at"`
	VerifiedAt        *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// WebhookEvent records a single inbound GitHub webhook delivery.
type WebhookEvent struct {
	ID                 int64      `db:"id" json:"id"`
	GitHubDeliveryID   string     `db:"github_delivery_id" json:"github_delivery_id"`
	EventType          string     `db:"event_type" json:"event_type"`
	Action             string     `db:"action" json:"action,omitempty"`
	RepoOwner          string     `db:"repo_owner" json:"repo_owner,omitempty"`
	RepoName           string     `db:"repo_name" json:"repo_name,omitempty"`
	Payload            JSONBlob   `db:"payload" json:"payload,omitempty"`
	Headers            JSONBlob   `db:"headers" json:"headers,omitempty"`
	Processed          bool       `db:"processed" json:"processed"`
	ProcessingDuration  *time.Duration `db:"processing_duration_ms" json:"processing_duration,omitempty"`
	ProcessingError     string     `db:"processing_error" json:"processing_error,omitempty"`
	TriggeredActions    int        `db:"triggered_actions" json:"triggered_actions"`
	AutomationResults   JSONBlob   `db:"automation_results" json:"automation_results,omitempty"`
	ReceivedAt          time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt         *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// RateLimitBucket is the closed set of GitHub rate-limit resource classes.
type RateLimitBucket string

const (
	BucketCore                RateLimitBucket = "core"
	BucketSearch              RateLimitBucket = "search"
	BucketGraphQL             RateLimitBucket = "graphql"
	BucketIntegrationManifest RateLimitBucket = "integration_manifest"
)

// RateLimitSample is an append-only record of an observed rate-limit header set.
type RateLimitSample struct {
	ID              int64           `db:"id" json:"id"`
	APIEndpoint     string          `db:"api_endpoint" json:"api_endpoint"`
	RateLimitType   RateLimitBucket `db:"rate_limit_type" json:"rate_limit_type"`
	Limit           int             `db:"limit_value" json:"limit"`
	Remaining       int             `db:"remaining" json:"remaining"`
	ResetTimestamp  int64           `db:"reset_timestamp" json:"reset_timestamp"`
	Used            int             `db:"used" json:"used"`
	RequestURL      string          `db:"request_url" json:"request_url,omitempty"`
	ResponseStatus  int             `db:"response_status" json:"response_status"`
	RequestDuration time.Duration   `db:"request_duration_ms" json:"request_duration"`
	RecordedAt      time.Time       `db:"recorded_at" json:"recorded_at"`
}
