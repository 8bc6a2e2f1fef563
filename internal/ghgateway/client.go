// Package ghgateway implements the GitHub Gateway (C2): a thin typed surface
// over the GitHub REST API and webhook verification, grounded on the
// teacher's server/ghclient/client.go (Client interface + clientImpl wrapping
// *github.Client, pagination-loop pattern, httptest-based test style).
// Every operation reserves from the Rate Budget (C1) before issuing, then
// observes the response headers back into it and records a RateLimitSample,
// per spec.md §4.2.
package ghgateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ratebudget"
)

// SampleRecorder persists RateLimitSample rows. Implemented by internal/store.
type SampleRecorder interface {
	RecordRateLimitSample(ctx context.Context, sample domain.RateLimitSample) error
}

// Client is the typed surface consumed by the rest of the core. Operations
// listed here correspond one-to-one with spec.md §4.2.
type Client interface {
	ListRepositoryIssues(ctx context.Context, owner, repo string, since *time.Time, page, perPage int) (snapshots []IssueSnapshot, hasMore bool, err error)
	GetIssue(ctx context.Context, owner, repo string, number int) (IssueSnapshot, error)
	CloseIssue(ctx context.Context, owner, repo string, number int) (GitHubResponse, error)
	ReopenIssue(ctx context.Context, owner, repo string, number int) (GitHubResponse, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (GitHubResponse, error)
	RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) (GitHubResponse, error)
	AddComment(ctx context.Context, owner, repo string, number int, body string) (GitHubResponse, error)
	DeleteComment(ctx context.Context, owner, repo string, commentID int64) (GitHubResponse, error)
	SetAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (GitHubResponse, error)
	SetMilestone(ctx context.Context, owner, repo string, number int, milestoneNumber *int) (GitHubResponse, error)

	// Evidence-gathering, consumed by the Feature Detector (spec.md §4.5).
	ListCommitsReferencingIssue(ctx context.Context, owner, repo string, issueNumber int) ([]CommitReference, error)
	ListCommitFiles(ctx context.Context, owner, repo, sha string) ([]ChangedFile, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error)
}

// VerifyWebhookSignature is a free function (not a Client method, matching
// spec.md's `verify_webhook_signature` being stateless): it needs no network
// access and so lives in webhook.go.

type clientImpl struct {
	gh      *github.Client
	budget  *ratebudget.Budget
	store   SampleRecorder
	breaker *gobreaker.CircuitBreaker[*github.Response]
}

// NewClient builds a Client wrapping a personal-access-token-authenticated
// go-github client. budget gates every call per C1; store records every
// observed RateLimitSample.
func NewClient(token string, budget *ratebudget.Budget, store SampleRecorder) Client {
	gh := github.NewClient(nil).WithAuthToken(token)
	return NewClientWithGitHub(gh, budget, store)
}

// NewClientWithGitHub injects a preconfigured *github.Client, the test
// injection point mirrored from the teacher's NewClientWithGitHub.
func NewClientWithGitHub(gh *github.Client, budget *ratebudget.Budget, store SampleRecorder) Client {
	st := gobreaker.Settings{
		Name:        "github-gateway",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &clientImpl{gh: gh, budget: budget, store: store, breaker: gobreaker.NewCircuitBreaker[*github.Response](st)}
}

// bucketFor maps an operation to its GitHub rate-limit resource class.
// Search operations are not currently issued by this gateway (commit search
// lives under the core REST surface via list-commits), so every call here
// uses the core bucket except GraphQL, which has none in the REST-only
// surface this gateway exposes.
func bucketFor(_ string) domain.RateLimitBucket {
	return domain.BucketCore
}

// call centralizes the reserve -> invoke -> observe -> record pipeline every
// gateway operation follows, per spec.md §4.2.
func (c *clientImpl) call(ctx context.Context, op string, fn func() (*github.Response, error)) (*github.Response, error) {
	bucket := bucketFor(op)
	res := c.budget.Reserve(bucket, 1)
	if !res.Granted {
		return nil, &RateLimitedError{ResetAt: time.Now().Add(res.WaitHint)}
	}

	start := time.Now()
	resp, breakerErr := c.breaker.Execute(func() (*github.Response, error) {
		return fn()
	})
	duration := time.Since(start)

	if resp != nil {
		headers := parseRateLimitHeaders(resp)
		c.budget.Observe(bucket, headers.Limit, headers.Remaining, headers.ResetAt)
		if c.store != nil {
			sample := domain.RateLimitSample{
				APIEndpoint:     op,
				RateLimitType:   bucket,
				Limit:           headers.Limit,
				Remaining:       headers.Remaining,
				ResetTimestamp:  headers.ResetAt.Unix(),
				RequestURL:      resp.Request.URL.String(),
				ResponseStatus:  resp.StatusCode,
				RequestDuration: duration,
				RecordedAt:      time.Now(),
			}
			_ = c.store.RecordRateLimitSample(ctx, sample)
		}
	}

	if breakerErr == gobreaker.ErrOpenState || breakerErr == gobreaker.ErrTooManyRequests {
		return resp, &TransientError{Cause: breakerErr}
	}

	return resp, classifyError(resp, breakerErr)
}

func parseRateLimitHeaders(resp *github.Response) RateLimitHeaders {
	if resp == nil {
		return RateLimitHeaders{}
	}
	return RateLimitHeaders{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Time,
	}
}

// classifyError maps a go-github error into the three primary kinds defined
// in spec.md §4.2: on 403 with remaining=0 -> RateLimited; on 5xx or network
// error -> Transient; on other 4xx -> Permanent.
func classifyError(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &RateLimitedError{ResetAt: rle.Rate.Reset.Time}
	}
	var are *github.AbuseRateLimitError
	if errors.As(err, &are) {
		resetAt := time.Now().Add(time.Minute)
		if are.RetryAfter != nil {
			resetAt = time.Now().Add(*are.RetryAfter)
		}
		return &RateLimitedError{ResetAt: resetAt}
	}

	if resp == nil {
		return &TransientError{Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden && resp.Rate.Remaining == 0:
		return &RateLimitedError{ResetAt: resp.Rate.Reset.Time}
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Cause: err}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{ResetAt: time.Now().Add(time.Minute)}
	case resp.StatusCode >= 400:
		return &PermanentError{StatusCode: resp.StatusCode, Body: err.Error()}
	default:
		return &TransientError{Cause: err}
	}
}

func (c *clientImpl) ListRepositoryIssues(ctx context.Context, owner, repo string, since *time.Time, page, perPage int) ([]IssueSnapshot, bool, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var issues []*github.Issue
	resp, err := c.call(ctx, "list_repository_issues", func() (*github.Response, error) {
		is, resp, innerErr := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
		issues = is
		return resp, innerErr
	})
	if err != nil {
		return nil, false, err
	}

	snapshots := make([]IssueSnapshot, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue // the issues endpoint also returns PRs; out of scope (spec Non-goals)
		}
		snapshots = append(snapshots, toSnapshot(owner, repo, issue))
	}
	hasMore := resp != nil && resp.NextPage != 0
	return snapshots, hasMore, nil
}

func (c *clientImpl) GetIssue(ctx context.Context, owner, repo string, number int) (IssueSnapshot, error) {
	var issue *github.Issue
	_, err := c.call(ctx, "get_issue", func() (*github.Response, error) {
		i, resp, innerErr := c.gh.Issues.Get(ctx, owner, repo, number)
		issue = i
		return resp, innerErr
	})
	if err != nil {
		return IssueSnapshot{}, err
	}
	return toSnapshot(owner, repo, issue), nil
}

func toSnapshot(owner, repo string, issue *github.Issue) IssueSnapshot {
	if issue == nil {
		return IssueSnapshot{}
	}
	snap := IssueSnapshot{
		RepoOwner:         owner,
		RepoName:          repo,
		GitHubIssueID:     issue.GetID(),
		GitHubIssueNumber: issue.GetNumber(),
		Title:             issue.GetTitle(),
		Body:              issue.GetBody(),
		State:             issue.GetState(),
		Author:            issue.GetUser().GetLogin(),
		CreatedAt:         issue.GetCreatedAt().Time,
		UpdatedAt:         issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		t := issue.GetClosedAt().Time
		snap.ClosedAt = &t
	}
	for _, a := range issue.Assignees {
		snap.Assignees = append(snap.Assignees, a.GetLogin())
	}
	for _, l := range issue.Labels {
		snap.Labels = append(snap.Labels, l.GetName())
	}
	if issue.Milestone != nil {
		title := issue.Milestone.GetTitle()
		snap.Milestone = &title
	}
	return snap
}

func (c *clientImpl) CloseIssue(ctx context.Context, owner, repo string, number int) (GitHubResponse, error) {
	req := &github.IssueRequest{State: github.String("closed")}
	var statusCode int
	_, err := c.call(ctx, "close_issue", func() (*github.Response, error) {
		_, resp, innerErr := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) ReopenIssue(ctx context.Context, owner, repo string, number int) (GitHubResponse, error) {
	req := &github.IssueRequest{State: github.String("open")}
	var statusCode int
	_, err := c.call(ctx, "reopen_issue", func() (*github.Response, error) {
		_, resp, innerErr := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (GitHubResponse, error) {
	var statusCode int
	_, err := c.call(ctx, "add_labels", func() (*github.Response, error) {
		_, resp, innerErr := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) (GitHubResponse, error) {
	var statusCode int
	var lastErr error
	for _, label := range labels {
		_, err := c.call(ctx, "remove_labels", func() (*github.Response, error) {
			resp, innerErr := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
			if resp != nil {
				statusCode = resp.StatusCode
			}
			return resp, innerErr
		})
		if err != nil {
			lastErr = err
		}
	}
	return GitHubResponse{StatusCode: statusCode}, lastErr
}

func (c *clientImpl) AddComment(ctx context.Context, owner, repo string, number int, body string) (GitHubResponse, error) {
	var commentID int64
	var statusCode int
	_, err := c.call(ctx, "add_comment", func() (*github.Response, error) {
		comment, resp, innerErr := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.String(body)})
		if comment != nil {
			commentID = comment.GetID()
		}
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode, CommentID: commentID}, err
}

func (c *clientImpl) DeleteComment(ctx context.Context, owner, repo string, commentID int64) (GitHubResponse, error) {
	var statusCode int
	_, err := c.call(ctx, "delete_comment", func() (*github.Response, error) {
		resp, innerErr := c.gh.Issues.DeleteComment(ctx, owner, repo, commentID)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) SetAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (GitHubResponse, error) {
	req := &github.IssueRequest{Assignees: &assignees}
	var statusCode int
	_, err := c.call(ctx, "set_assignees", func() (*github.Response, error) {
		_, resp, innerErr := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) SetMilestone(ctx context.Context, owner, repo string, number int, milestoneNumber *int) (GitHubResponse, error) {
	req := &github.IssueRequest{Milestone: milestoneNumber}
	var statusCode int
	_, err := c.call(ctx, "set_milestone", func() (*github.Response, error) {
		_, resp, innerErr := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		return resp, innerErr
	})
	return GitHubResponse{StatusCode: statusCode}, err
}

func (c *clientImpl) ListCommitsReferencingIssue(ctx context.Context, owner, repo string, issueNumber int) ([]CommitReference, error) {
	var refs []CommitReference
	opts := &github.CommitsListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var commits []*github.RepositoryCommit
		resp, err := c.call(ctx, "list_commits", func() (*github.Response, error) {
			cs, resp, innerErr := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			commits = cs
			return resp, innerErr
		})
		if err != nil {
			return refs, err
		}
		for _, commit := range commits {
			msg := commit.GetCommit().GetMessage()
			if !referencesIssue(msg, issueNumber) {
				continue
			}
			refs = append(refs, CommitReference{
				SHA:         commit.GetSHA(),
				Message:     msg,
				Author:      commit.GetAuthor().GetLogin(),
				CommittedAt: commit.GetCommit().GetAuthor().GetDate().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return refs, nil
}

func (c *clientImpl) ListCommitFiles(ctx context.Context, owner, repo, sha string) ([]ChangedFile, error) {
	var files []*github.CommitFile
	_, err := c.call(ctx, "get_commit", func() (*github.Response, error) {
		commit, resp, innerErr := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		if commit != nil {
			files = commit.Files
		}
		return resp, innerErr
	})
	if err != nil {
		return nil, err
	}
	out := make([]ChangedFile, 0, len(files))
	for _, f := range files {
		out = append(out, ChangedFile{
			Path:      f.GetFilename(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Status:    f.GetStatus(),
		})
	}
	return out, nil
}

func (c *clientImpl) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	var comments []*github.IssueComment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var all []IssueComment
	for {
		resp, err := c.call(ctx, "list_issue_comments", func() (*github.Response, error) {
			cs, resp, innerErr := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
			comments = cs
			return resp, innerErr
		})
		if err != nil {
			return all, err
		}
		for _, comment := range comments {
			all = append(all, IssueComment{
				ID:        comment.GetID(),
				Author:    comment.GetUser().GetLogin(),
				Body:      comment.GetBody(),
				CreatedAt: comment.GetCreatedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// referencesIssue reports whether a commit message mentions the given issue
// number via any of GitHub's recognized closing/referencing keywords or a
// bare "#N".
func referencesIssue(message string, issueNumber int) bool {
	return containsIssueRef(message, issueNumber)
}
