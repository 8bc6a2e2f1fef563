package ghgateway

import "time"

// IssueSnapshot is the gateway's typed view of a GitHub issue, the payload
// the Ingestor upserts into the Store.
type IssueSnapshot struct {
	RepoOwner         string
	RepoName          string
	GitHubIssueID     int64
	GitHubIssueNumber int
	Title             string
	Body              string
	State             string // "open" | "closed"
	Author            string
	Assignees         []string
	Labels            []string
	Milestone         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time
}

// GitHubResponse is the generic typed envelope returned by mutating calls.
type GitHubResponse struct {
	StatusCode int
	CommentID  int64 // populated by add_comment for rollback_data
	RawBody    string
}

// RateLimitHeaders is the parsed set of rate-limit headers attached to every
// GitHub response, per spec.md §6.1.
type RateLimitHeaders struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Resource  string
}

// CommitReference is one commit whose message references an issue number,
// consumed by the Feature Detector's commit_evidence signal.
type CommitReference struct {
	SHA       string
	Message   string
	Author    string
	CommittedAt time.Time
}

// ChangedFile is one file touched by a commit or PR, consumed by the
// Feature Detector's code_evidence/test_evidence/doc_evidence signals.
type ChangedFile struct {
	Path      string
	Additions int
	Deletions int
	Status    string // "added" | "modified" | "removed" | "renamed"
}

// IssueComment is a comment on an issue, consumed by the Feature Detector's
// false-positive signal (dispute terms) and its assignee hold-request
// disqualifier.
type IssueComment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}
