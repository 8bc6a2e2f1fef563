// Package ingest implements the Ingestor (C4): periodic repository scans and
// webhook-driven updates, reconciled into the Store idempotently, per
// spec.md §4.4. Grounded on the teacher's server/poller.go (poll-loop /
// counters / janitor-sweep-as-backup-path shape) and server/webhook.go
// (verify -> idempotency-check -> route-by-event -> mark-processed-on-2xx
// pipeline), generalized from Cursor-agent polling to GitHub issue sync.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/domain"
	"github.com/octocrew/gh-automation-core/internal/ghgateway"
	"github.com/octocrew/gh-automation-core/internal/logging"
	"github.com/octocrew/gh-automation-core/internal/store"
)

const (
	deliveryHeader  = "X-GitHub-Delivery"
	eventHeader     = "X-GitHub-Event"
	signatureHeader = "X-Hub-Signature-256"

	defaultPerPage = 100
)

// issueStore is the narrow slice of *store.Store the Ingestor needs,
// mirroring the gateway's SampleRecorder pattern so tests can substitute a
// fake without standing up a database.
type issueStore interface {
	UpsertIssue(ctx context.Context, in store.IssueUpsert) (store.UpsertResult, error)
	ListIssuesForRepo(ctx context.Context, owner, repo string, updatedSince *time.Time) ([]domain.Issue, error)
	UpsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) (store.WebhookUpsertResult, error)
	CompleteWebhookEvent(ctx context.Context, eventID int64, processingErr string, triggeredActions int, results domain.JSONBlob, duration time.Duration) error
}

// Ingestor drives both inputs named in spec.md §4.4.
type Ingestor struct {
	gh  ghgateway.Client
	st  issueStore
	cfg *config.Store
	now func() time.Time
}

// New builds an Ingestor. cfg supplies the webhook secret and full-scan
// window; both may change at runtime via config.Store.
func New(gh ghgateway.Client, st *store.Store, cfg *config.Store) *Ingestor {
	return &Ingestor{gh: gh, st: st, cfg: cfg, now: time.Now}
}

// SyncResult is the counters + cost reported by one periodic scan.
type SyncResult struct {
	Fetched  int
	New      int
	Updated  int
	Unchanged int
	Duration time.Duration
	APICalls int
}

// Sync implements spec.md §4.4's periodic scan: `sync(owner, repo, since?)`.
// forceFullScan ignores the repository's last sync bookmark and the
// full-scan window, re-listing everything.
func (in *Ingestor) Sync(ctx context.Context, owner, repo string, forceFullScan bool) (SyncResult, error) {
	start := in.now()
	log := logging.FromContext(ctx).WithValues("owner", owner, "repo", repo)

	cfg := in.cfg.Get()
	var since *time.Time
	if !forceFullScan {
		window := time.Duration(cfg.FullScanWindowHours) * time.Hour
		cutoff := in.now().Add(-window)
		if last, err := in.lastSyncAt(ctx, owner, repo); err == nil && last != nil && last.After(cutoff) {
			since = last
		} else {
			since = &cutoff
		}
	}

	var result SyncResult
	page := 1
	for {
		snapshots, hasMore, err := in.gh.ListRepositoryIssues(ctx, owner, repo, since, page, defaultPerPage)
		result.APICalls++
		if err != nil {
			return result, errors.Wrap(err, "listing repository issues")
		}

		for _, snap := range snapshots {
			result.Fetched++
			upsertResult, err := in.st.UpsertIssue(ctx, toIssueUpsert(snap))
			if err != nil {
				log.Error(err, "upserting issue during sync", "issue_number", snap.GitHubIssueNumber)
				continue
			}
			switch {
			case upsertResult.WasNew:
				result.New++
			case len(upsertResult.ChangedFields) > 0:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		if !hasMore {
			break
		}
		page++

		select {
		case <-ctx.Done():
			result.Duration = in.now().Sub(start)
			return result, ctx.Err()
		default:
		}
	}

	result.Duration = in.now().Sub(start)
	log.Info("sync complete", "fetched", result.Fetched, "new", result.New, "updated", result.Updated)
	return result, nil
}

// lastSyncAt approximates "last_sync_at" from the most recently seen issue
// update timestamp for the repository; the teacher keeps no separate
// per-repository bookmark row, so this mirrors that by deriving from the
// data already persisted rather than adding new state.
func (in *Ingestor) lastSyncAt(ctx context.Context, owner, repo string) (*time.Time, error) {
	issues, err := in.st.ListIssuesForRepo(ctx, owner, repo, nil)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, issue := range issues {
		t := issue.GitHubUpdatedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func toIssueUpsert(snap ghgateway.IssueSnapshot) store.IssueUpsert {
	return store.IssueUpsert{
		RepoOwner:         snap.RepoOwner,
		RepoName:          snap.RepoName,
		GitHubIssueID:     snap.GitHubIssueID,
		GitHubIssueNumber: snap.GitHubIssueNumber,
		Title:             snap.Title,
		Body:              snap.Body,
		Status:            domain.IssueStatus(snap.State),
		Author:            snap.Author,
		Assignees:         snap.Assignees,
		Labels:            snap.Labels,
		Milestone:         snap.Milestone,
		GitHubCreatedAt:   snap.CreatedAt,
		GitHubUpdatedAt:   snap.UpdatedAt,
		GitHubClosedAt:    snap.ClosedAt,
	}
}

// IngestResult is returned by Ingest, exactly-once per delivery id.
type IngestResult struct {
	EventID          int64
	TriggeredActions int
	NeedsReanalysis  []int64 // internal issue ids flagged for re-analysis

	// PriorProcessed and PriorResult are set when this delivery id was already
	// processed to completion by an earlier attempt; spec.md §4.4 step 3
	// requires the caller see that stored result rather than reprocessing.
	PriorProcessed bool
	PriorResult    domain.JSONBlob
}

// rawIssuesEvent and rawGenericEvent are the minimal GitHub webhook payload
// shapes consumed here, mirroring the teacher's webhook.go ghPullRequest /
// PullRequestEvent style of narrow per-event structs.
type rawIssuesEvent struct {
	Action     string `json:"action"`
	Issue      rawIssue `json:"issue"`
	Repository rawRepository `json:"repository"`
}

type rawIssue struct {
	ID        int64    `json:"id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	User      rawUser  `json:"user"`
	Assignees []rawUser `json:"assignees"`
	Labels    []rawLabel `json:"labels"`
	Milestone *rawMilestone `json:"milestone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

type rawUser struct {
	Login string `json:"login"`
}

type rawLabel struct {
	Name string `json:"name"`
}

type rawMilestone struct {
	Title string `json:"title"`
}

type rawRepository struct {
	Name  string  `json:"name"`
	Owner rawUser `json:"owner"`
}

type rawIssueCommentEvent struct {
	Action     string        `json:"action"`
	Issue      rawIssue      `json:"issue"`
	Repository rawRepository `json:"repository"`
}

type rawPullRequestEvent struct {
	Action     string        `json:"action"`
	Repository rawRepository `json:"repository"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

// Ingest implements spec.md §4.4's webhook ingest: `ingest(raw_body, headers)`.
func (in *Ingestor) Ingest(ctx context.Context, rawBody []byte, headers http.Header) (IngestResult, error) {
	log := logging.FromContext(ctx)
	cfg := in.cfg.Get()

	if !ghgateway.VerifyWebhookSignature([]byte(cfg.GitHubWebhookSecret), headers.Get(signatureHeader), rawBody) {
		return IngestResult{}, &ghgateway.InvalidSignatureError{}
	}

	deliveryID := headers.Get(deliveryHeader)
	if deliveryID == "" {
		return IngestResult{}, errors.New("missing X-GitHub-Delivery header")
	}
	eventType := headers.Get(eventHeader)

	repoOwner, repoName, action := peekRepoAndAction(eventType, rawBody)

	upsertResult, err := in.st.UpsertWebhookEvent(ctx, domain.WebhookEvent{
		GitHubDeliveryID: deliveryID,
		EventType:        eventType,
		Action:           action,
		RepoOwner:        repoOwner,
		RepoName:         repoName,
		Payload:          rawJSONBlob(rawBody),
		Headers:          headersToBlob(headers),
	})
	if err != nil {
		return IngestResult{}, errors.Wrap(err, "upserting webhook event")
	}
	if !upsertResult.IsNew {
		if upsertResult.PriorProcessed {
			log.V(1).Info("duplicate webhook delivery, returning prior result", "delivery_id", deliveryID)
			return IngestResult{
				EventID:        upsertResult.EventID,
				PriorProcessed: true,
				PriorResult:    upsertResult.PriorResult,
			}, nil
		}
		// Prior attempt failed mid-flight; fall through and retry processing.
	}

	start := in.now()
	needsReanalysis, processErr := in.dispatch(ctx, eventType, rawBody)
	duration := in.now().Sub(start)

	errMsg := ""
	if processErr != nil {
		errMsg = processErr.Error()
	}
	if completeErr := in.st.CompleteWebhookEvent(ctx, upsertResult.EventID, errMsg, len(needsReanalysis), nil, duration); completeErr != nil {
		log.Error(completeErr, "recording webhook event outcome", "delivery_id", deliveryID)
	}

	return IngestResult{EventID: upsertResult.EventID, NeedsReanalysis: needsReanalysis}, processErr
}

// dispatch routes by event type per spec.md §4.4 step 4, returning the
// internal issue ids that should be flagged for re-analysis.
func (in *Ingestor) dispatch(ctx context.Context, eventType string, rawBody []byte) ([]int64, error) {
	switch eventType {
	case "issues":
		var ev rawIssuesEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, errors.Wrap(err, "parsing issues event")
		}
		result, err := in.st.UpsertIssue(ctx, toIssueUpsertFromRaw(ev.Repository, ev.Issue))
		if err != nil {
			return nil, errors.Wrap(err, "upserting issue from webhook")
		}
		return []int64{result.IssueID}, nil

	case "issue_comment":
		var ev rawIssueCommentEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, errors.Wrap(err, "parsing issue_comment event")
		}
		result, err := in.st.UpsertIssue(ctx, toIssueUpsertFromRaw(ev.Repository, ev.Issue))
		if err != nil {
			return nil, errors.Wrap(err, "upserting issue from issue_comment webhook")
		}
		return []int64{result.IssueID}, nil

	case "pull_request":
		var ev rawPullRequestEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, errors.Wrap(err, "parsing pull_request event")
		}
		issue, err := in.gh.GetIssue(ctx, ev.Repository.Owner.Login, ev.Repository.Name, ev.PullRequest.Number)
		if err != nil {
			// Not every PR number maps to an issue-shaped resource on GitHub's
			// API in all edge cases; acknowledge rather than fail the delivery.
			return nil, nil
		}
		result, err := in.st.UpsertIssue(ctx, toIssueUpsert(issue))
		if err != nil {
			return nil, errors.Wrap(err, "upserting issue from pull_request webhook")
		}
		return []int64{result.IssueID}, nil

	default:
		return nil, nil
	}
}

func toIssueUpsertFromRaw(repo rawRepository, issue rawIssue) store.IssueUpsert {
	assignees := make([]string, 0, len(issue.Assignees))
	for _, a := range issue.Assignees {
		assignees = append(assignees, a.Login)
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	var milestone *string
	if issue.Milestone != nil {
		milestone = &issue.Milestone.Title
	}
	return store.IssueUpsert{
		RepoOwner:         repo.Owner.Login,
		RepoName:          repo.Name,
		GitHubIssueID:     issue.ID,
		GitHubIssueNumber: issue.Number,
		Title:             issue.Title,
		Body:              issue.Body,
		Status:            domain.IssueStatus(issue.State),
		Author:            issue.User.Login,
		Assignees:         assignees,
		Labels:            labels,
		Milestone:         milestone,
		GitHubCreatedAt:   issue.CreatedAt,
		GitHubUpdatedAt:   issue.UpdatedAt,
		GitHubClosedAt:    issue.ClosedAt,
	}
}

// peekRepoAndAction extracts just enough of the payload to label the
// webhook_events row without committing to a specific event schema.
func peekRepoAndAction(eventType string, rawBody []byte) (owner, repo, action string) {
	var envelope struct {
		Action     string        `json:"action"`
		Repository rawRepository `json:"repository"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return "", "", ""
	}
	return envelope.Repository.Owner.Login, envelope.Repository.Name, envelope.Action
}

func rawJSONBlob(rawBody []byte) domain.JSONBlob {
	var blob domain.JSONBlob
	if err := json.Unmarshal(rawBody, &blob); err != nil {
		return nil
	}
	return blob
}

func headersToBlob(headers http.Header) domain.JSONBlob {
	blob := make(domain.JSONBlob, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			blob[k] = v[0]
		}
	}
	return blob
}
