// Package execute implements the Action Executor (C7): drains pending
// actions under a bounded-concurrency worker pool, applying the state
// machine and per-attempt procedure in spec.md §4.7, plus rollback. Grounded
// on the teacher's server/poller.go for the claim/process/persist loop shape
// (poll a batch, act on each, write status back) and on the rest of the
// example pack for the concurrency and retry primitives the teacher itself
// doesn't need (a Mattermost plugin handles one agent launch at a time).
package execute

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/logging"
	"github.com/octocrew/gh-automation-core/internal/store"
)

const (
	defaultMaxConcurrentActions = 10
	defaultRateLimitWaitCeiling = 5 * time.Minute
	defaultPerActionTimeout     = 60 * time.Second
)

// actionStore is the narrow slice of *store.Store the executor needs.
type actionStore interface {
	ClaimActions(ctx context.Context, limit int) ([]domain.Action, error)
	CompleteAction(ctx context.Context, actionID int64, outcome store.ActionOutcome) error
	RetryAction(ctx context.Context, actionID int64, nextStatus domain.ActionStatus) error
	DeferAction(ctx context.Context, actionID int64) error
	GetIssue(ctx context.Context, issueID int64) (domain.Issue, error)
	GetAction(ctx context.Context, actionID int64) (domain.Action, error)
	MarkRolledBack(ctx context.Context, actionID int64, reason string) error
}

// Executor drains and executes pending actions per spec.md §4.7.
type Executor struct {
	gh  ghgateway.Client
	st  actionStore
	cfg *config.Store
	now func() time.Time
}

// New builds an Executor.
func New(gh ghgateway.Client, st *store.Store, cfg *config.Store) *Executor {
	return &Executor{gh: gh, st: st, cfg: cfg, now: time.Now}
}

// Outcome is one action's terminal (or deferred) result from a Drain pass.
type Outcome struct {
	ActionID int64
	Status   domain.ActionStatus
	Err      error
}

// DrainReport aggregates a Drain pass for the Cycle Controller's report.
type DrainReport struct {
	Completed int
	Failed    int
	Cancelled int
	StillPending int
}

// Drain implements spec.md §4.7's bounded-concurrency worker pool: claims
// batches of pending actions and executes them until the queue is empty,
// maxActions is reached, or ctx's deadline elapses. Unfinished actions
// remain pending.
func (e *Executor) Drain(ctx context.Context, maxActions int) (DrainReport, error) {
	cfg := e.cfg.Get()
	workers := cfg.MaxConcurrentActions
	if workers <= 0 {
		workers = defaultMaxConcurrentActions
	}

	var report DrainReport
	processed := 0
	batchSize := workers

	for {
		if ctx.Err() != nil {
			break
		}
		if maxActions > 0 && processed >= maxActions {
			break
		}

		remaining := batchSize
		if maxActions > 0 && maxActions-processed < remaining {
			remaining = maxActions - processed
		}

		actions, err := e.st.ClaimActions(ctx, remaining)
		if err != nil {
			return report, errors.Wrap(err, "claiming actions")
		}
		if len(actions) == 0 {
			break
		}

		p := pool.NewWithResults[Outcome]().WithMaxGoroutines(workers)
		for _, a := range actions {
			a := a
			p.Go(func() Outcome {
				return e.execute(ctx, a)
			})
		}
		results := p.Wait()

		for _, r := range results {
			processed++
			switch r.Status {
			case domain.ActionStatusCompleted:
				report.Completed++
			case domain.ActionStatusFailed:
				report.Failed++
			case domain.ActionStatusCancelled:
				report.Cancelled++
			case domain.ActionStatusPending:
				report.StillPending++
			}
		}
	}

	return report, nil
}

// execute runs spec.md §4.7's per-attempt procedure for one claimed action,
// looping internally through transient retries and rate-limit waits until a
// terminal outcome or the per-action ceiling is hit.
func (e *Executor) execute(ctx context.Context, action domain.Action) Outcome {
	log := logging.FromContext(ctx).WithValues("action_id", action.ID, "action_type", action.ActionType)
	cfg := e.cfg.Get()

	for {
		if ctx.Err() != nil {
			e.deferToNextCycle(action.ID, log)
			return Outcome{ActionID: action.ID, Status: domain.ActionStatusPending, Err: ctx.Err()}
		}

		issue, err := e.st.GetIssue(ctx, action.IssueID)
		if err != nil {
			_ = e.complete(ctx, action.ID, store.ActionOutcome{Status: domain.ActionStatusFailed, ErrorMessage: err.Error()})
			return Outcome{ActionID: action.ID, Status: domain.ActionStatusFailed, Err: err}
		}

		if reason, ok := preconditionFailure(action, issue); ok {
			_ = e.complete(ctx, action.ID, store.ActionOutcome{Status: domain.ActionStatusCancelled, ErrorMessage: reason})
			return Outcome{ActionID: action.ID, Status: domain.ActionStatusCancelled}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeoutFor(cfg))
		resp, rollbackData, callErr := e.invoke(callCtx, issue, action)
		cancel()

		switch {
		case callErr == nil:
			_ = e.complete(ctx, action.ID, store.ActionOutcome{
				Status:         domain.ActionStatusCompleted,
				Success:        boolPtr(true),
				GitHubResponse: responseBlob(resp),
				RollbackData:   rollbackData,
				CanRollback:    action.CanRollback,
			})
			return Outcome{ActionID: action.ID, Status: domain.ActionStatusCompleted}

		case ghgateway.IsPermanent(callErr):
			_ = e.complete(ctx, action.ID, store.ActionOutcome{Status: domain.ActionStatusFailed, Success: boolPtr(false), ErrorMessage: callErr.Error()})
			log.Info("action failed permanently", "error", callErr.Error())
			return Outcome{ActionID: action.ID, Status: domain.ActionStatusFailed, Err: callErr}

		case ghgateway.IsRateLimited(callErr):
			waitHint := rateLimitWaitHint(callErr, e.now())
			if waitHint > defaultRateLimitWaitCeiling {
				_ = e.retryLater(ctx, action.ID)
				return Outcome{ActionID: action.ID, Status: domain.ActionStatusPending, Err: callErr}
			}
			select {
			case <-time.After(waitHint):
			case <-ctx.Done():
				e.deferToNextCycle(action.ID, log)
				return Outcome{ActionID: action.ID, Status: domain.ActionStatusPending, Err: ctx.Err()}
			}
			continue

		default: // transient
			action.ExecutionAttempts++
			if action.ExecutionAttempts >= action.MaxAttempts {
				_ = e.complete(ctx, action.ID, store.ActionOutcome{Status: domain.ActionStatusFailed, Success: boolPtr(false), ErrorMessage: callErr.Error()})
				return Outcome{ActionID: action.ID, Status: domain.ActionStatusFailed, Err: callErr}
			}
			if err := e.st.RetryAction(ctx, action.ID, domain.ActionStatusInProgress); err != nil {
				log.Error(err, "recording retry attempt")
			}
			select {
			case <-time.After(backoffDelay(cfg, action.ExecutionAttempts)):
			case <-ctx.Done():
				e.deferToNextCycle(action.ID, log)
				return Outcome{ActionID: action.ID, Status: domain.ActionStatusPending, Err: ctx.Err()}
			}
			continue
		}
	}
}

func (e *Executor) complete(ctx context.Context, actionID int64, outcome store.ActionOutcome) error {
	return e.st.CompleteAction(ctx, actionID, outcome)
}

func (e *Executor) retryLater(ctx context.Context, actionID int64) error {
	return e.st.DeferAction(ctx, actionID)
}

// deferToNextCycle resets a claimed action back to pending when the drain's
// own ctx is already done, per spec.md §4.7 step 3 ("action remains pending
// for next cycle"). ctx is cancelled by this point, so the write uses a fresh,
// short-lived context rather than one already guaranteed to fail.
func (e *Executor) deferToNextCycle(actionID int64, log logr.Logger) {
	resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.st.DeferAction(resetCtx, actionID); err != nil {
		log.Error(err, "deferring action to next cycle")
	}
}

func timeoutFor(cfg *config.Config) time.Duration {
	if cfg.HTTPTimeoutSeconds > 0 {
		return time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}
	return defaultPerActionTimeout
}

// backoffDelay implements spec.md §4.7's `min(cap, base·2^(attempts-1))`
// with ±20% jitter, via a cenkalti/backoff/v5 ExponentialBackOff configured
// to exactly that policy — the library's own Retry loop is not used since
// the executor's attempts counter must survive across claims spanning
// separate cycles, persisted in the Store rather than held in memory.
func backoffDelay(cfg *config.Config, attempts int) time.Duration {
	base := time.Duration(cfg.BackoffBaseSeconds) * time.Second
	if base <= 0 {
		base = 2 * time.Second
	}
	ceiling := time.Duration(cfg.BackoffCapSeconds) * time.Second
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = base
	boff.Multiplier = 2
	boff.MaxInterval = ceiling
	boff.RandomizationFactor = 0.2
	// v5's ExponentialBackOff has no elapsed-time ceiling; attempts are bounded by max_attempts instead.

	for i := 1; i < attempts; i++ {
		boff.NextBackOff()
	}
	delay := boff.NextBackOff()
	if delay <= 0 {
		return ceiling
	}
	return delay
}

func rateLimitWaitHint(err error, now time.Time) time.Duration {
	var rle *ghgateway.RateLimitedError
	if errors.As(err, &rle) {
		wait := rle.ResetAt.Sub(now)
		if wait < 0 {
			return 0
		}
		return wait
	}
	return time.Minute
}

// preconditionFailure re-checks state immediately before mutation, per
// spec.md §4.7 step 1.
func preconditionFailure(action domain.Action, issue domain.Issue) (string, bool) {
	switch action.ActionType {
	case domain.ActionTypeCloseIssue:
		if issue.Status != domain.IssueStatusOpen {
			return "issue is no longer open", true
		}
	case domain.ActionTypeLabelIssue:
		proposed := proposedLabels(action)
		if len(setDifference(proposed, issue.Labels)) == 0 {
			return "proposed labels already present", true
		}
	}
	return "", false
}

func (e *Executor) invoke(ctx context.Context, issue domain.Issue, action domain.Action) (ghgateway.GitHubResponse, domain.JSONBlob, error) {
	switch action.ActionType {
	case domain.ActionTypeCloseIssue:
		resp, err := e.gh.CloseIssue(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber)
		return resp, domain.JSONBlob{"previous_status": string(issue.Status)}, err

	case domain.ActionTypeLabelIssue:
		labels := setDifference(proposedLabels(action), issue.Labels)
		resp, err := e.gh.AddLabels(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, labels)
		return resp, domain.JSONBlob{"labels_added": labels}, err

	case domain.ActionTypeCommentIssue:
		resp, err := e.gh.AddComment(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, action.Reasoning)
		if err != nil {
			return resp, nil, err
		}
		return resp, domain.JSONBlob{"comment_id": resp.CommentID}, nil

	case domain.ActionTypeAssignIssue:
		assignees := assigneesFromEvidence(action)
		resp, err := e.gh.SetAssignees(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, assignees)
		return resp, domain.JSONBlob{"previous_assignees": []string(issue.Assignees)}, err

	case domain.ActionTypeMilestoneIssue:
		number := milestoneNumberFromEvidence(action)
		resp, err := e.gh.SetMilestone(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, number)
		return resp, domain.JSONBlob{"previous_milestone": issue.Milestone}, err

	default:
		return ghgateway.GitHubResponse{}, nil, &ghgateway.PermanentError{Body: "unsupported action type: " + string(action.ActionType)}
	}
}

// Rollback implements spec.md §4.7's `rollback(action_id, reason)`: only
// `completed` actions with `can_rollback=true` qualify. The inverse operation
// goes through the same gateway calls as invoke, so it reserves rate budget
// like any call, but it is attempted once: a transient or rate-limited
// failure is returned to the caller and not retried.
func (e *Executor) Rollback(ctx context.Context, actionID int64, reason string) error {
	action, err := e.st.GetAction(ctx, actionID)
	if err != nil {
		return errors.Wrap(err, "fetching action for rollback")
	}
	if action.Status != domain.ActionStatusCompleted || !action.CanRollback {
		return &ghgateway.RollbackUnavailableError{Reason: "action is not a completed, rollback-eligible action"}
	}

	issue, err := e.st.GetIssue(ctx, action.IssueID)
	if err != nil {
		return errors.Wrap(err, "fetching issue for rollback")
	}

	if err := e.invokeInverse(ctx, issue, action); err != nil {
		return errors.Wrap(err, "invoking inverse operation")
	}

	return e.st.MarkRolledBack(ctx, actionID, reason)
}

func (e *Executor) invokeInverse(ctx context.Context, issue domain.Issue, action domain.Action) error {
	switch action.ActionType {
	case domain.ActionTypeCloseIssue:
		_, err := e.gh.ReopenIssue(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber)
		return err

	case domain.ActionTypeLabelIssue:
		added := stringsFromBlob(action.RollbackData, "labels_added")
		if len(added) == 0 {
			return nil
		}
		_, err := e.gh.RemoveLabels(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, added)
		return err

	case domain.ActionTypeCommentIssue:
		commentID, ok := action.RollbackData["comment_id"]
		if !ok {
			return &ghgateway.RollbackUnavailableError{Reason: "no comment_id recorded"}
		}
		id, ok := toInt64(commentID)
		if !ok {
			return &ghgateway.RollbackUnavailableError{Reason: "comment_id malformed"}
		}
		_, err := e.gh.DeleteComment(ctx, issue.RepoOwner, issue.RepoName, id)
		return err

	case domain.ActionTypeAssignIssue:
		prior := stringsFromBlob(action.RollbackData, "previous_assignees")
		_, err := e.gh.SetAssignees(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, prior)
		return err

	case domain.ActionTypeMilestoneIssue:
		// previous_milestone was stored as *string (title); the gateway's
		// set_milestone takes a milestone number, which this executor does
		// not track per spec.md's Open Questions scope, so a restore here
		// can only clear rather than recreate the prior milestone.
		_, err := e.gh.SetMilestone(ctx, issue.RepoOwner, issue.RepoName, issue.GitHubIssueNumber, nil)
		return err

	default:
		return &ghgateway.RollbackUnavailableError{Reason: "unsupported action type"}
	}
}

func proposedLabels(action domain.Action) []string {
	return stringsFromBlob(action.Evidence, "proposed_labels")
}

func assigneesFromEvidence(action domain.Action) []string {
	return stringsFromBlob(action.Evidence, "assignees")
}

func milestoneNumberFromEvidence(action domain.Action) *int {
	v, ok := action.Evidence["milestone_number"]
	if !ok {
		return nil
	}
	if f, ok := v.(float64); ok {
		n := int(f)
		return &n
	}
	return nil
}

func stringsFromBlob(blob domain.JSONBlob, key string) []string {
	if blob == nil {
		return nil
	}
	raw, ok := blob[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func setDifference(proposed, current []string) []string {
	existing := make(map[string]bool, len(current))
	for _, l := range current {
		existing[l] = true
	}
	var diff []string
	for _, l := range proposed {
		if !existing[l] {
			diff = append(diff, l)
		}
	}
	return diff
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func responseBlob(resp ghgateway.GitHubResponse) domain.JSONBlob {
	return domain.JSONBlob{"status_code": resp.StatusCode}
}

func boolPtr(b bool) *bool { return &b }
