package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
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
	issues       map[int64]store.UpsertResult
	webhookSeen  map[string]store.WebhookUpsertResult
	upsertCalls  int
	completeCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{issues: map[int64]store.UpsertResult{}, webhookSeen: map[string]store.WebhookUpsertResult{}}
}

func (f *fakeStore) UpsertIssue(_ context.Context, in store.IssueUpsert) (store.UpsertResult, error) {
	f.upsertCalls++
	if r, ok := f.issues[in.GitHubIssueID]; ok {
		r.WasNew = false
		return r, nil
	}
	r := store.UpsertResult{IssueID: int64(len(f.issues) + 1), WasNew: true}
	f.issues[in.GitHubIssueID] = r
	return r, nil
}

func (f *fakeStore) ListIssuesForRepo(_ context.Context, _, _ string, _ *time.Time) ([]domain.Issue, error) {
	return nil, nil
}

func (f *fakeStore) UpsertWebhookEvent(_ context.Context, ev domain.WebhookEvent) (store.WebhookUpsertResult, error) {
	if r, ok := f.webhookSeen[ev.GitHubDeliveryID]; ok {
		return r, nil
	}
	r := store.WebhookUpsertResult{EventID: int64(len(f.webhookSeen) + 1), IsNew: true}
	f.webhookSeen[ev.GitHubDeliveryID] = store.WebhookUpsertResult{EventID: r.EventID, IsNew: false, PriorProcessed: true}
	return r, nil
}

func (f *fakeStore) CompleteWebhookEvent(_ context.Context, _ int64, _ string, _ int, _ domain.JSONBlob, _ time.Duration) error {
	f.completeCalls++
	return nil
}

type fakeClient struct {
	ghgateway.Client
	issue ghgateway.IssueSnapshot
}

func (f *fakeClient) GetIssue(context.Context, string, string, int) (ghgateway.IssueSnapshot, error) {
	return f.issue, nil
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newIngestorForTest(t *testing.T, gh ghgateway.Client, st issueStore, secret string) *Ingestor {
	t.Helper()
	cfgStore := config.NewStore(&config.Config{GitHubWebhookSecret: secret, FullScanWindowHours: 24})
	in := &Ingestor{gh: gh, cfg: cfgStore, now: time.Now}
	in.st = st
	return in
}

func TestIngest_RejectsInvalidSignature(t *testing.T) {
	fs := newFakeStore()
	in := newIngestorForTest(t, &fakeClient{}, fs, "secret")

	body := []byte(`{"action":"opened"}`)
	headers := http.Header{}
	headers.Set(deliveryHeader, "d1")
	headers.Set(eventHeader, "issues")
	headers.Set(signatureHeader, "sha256=deadbeef")

	_, err := in.Ingest(context.Background(), body, headers)
	require.Error(t, err)
	var sigErr *ghgateway.InvalidSignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestIngest_IssuesEventUpsertsIssue(t *testing.T) {
	fs := newFakeStore()
	in := newIngestorForTest(t, &fakeClient{}, fs, "secret")

	body := []byte(`{
		"action": "opened",
		"issue": {"id": 555, "number": 3, "title": "t", "body": "b", "state": "open",
			"user": {"login": "alice"}, "created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"},
		"repository": {"name": "core", "owner": {"login": "octocrew"}}
	}`)
	headers := http.Header{}
	headers.Set(deliveryHeader, "d2")
	headers.Set(eventHeader, "issues")
	headers.Set(signatureHeader, sign([]byte("secret"), body))

	result, err := in.Ingest(context.Background(), body, headers)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.upsertCalls)
	assert.Equal(t, 1, fs.completeCalls)
	assert.Len(t, result.NeedsReanalysis, 1)
}

func TestIngest_DuplicateDeliveryIsNoOp(t *testing.T) {
	fs := newFakeStore()
	in := newIngestorForTest(t, &fakeClient{}, fs, "secret")

	body := []byte(`{"action":"opened","issue":{"id":1,"number":1,"user":{"login":"a"}},"repository":{"name":"r","owner":{"login":"o"}}}`)
	headers := http.Header{}
	headers.Set(deliveryHeader, "dup")
	headers.Set(eventHeader, "issues")
	headers.Set(signatureHeader, sign([]byte("secret"), body))

	_, err := in.Ingest(context.Background(), body, headers)
	require.NoError(t, err)
	callsAfterFirst := fs.upsertCalls

	result, err := in.Ingest(context.Background(), body, headers)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, fs.upsertCalls, "duplicate delivery must not re-process")
	assert.Empty(t, result.NeedsReanalysis)
	assert.True(t, result.PriorProcessed)
}

func TestIngest_MissingDeliveryIDRejected(t *testing.T) {
	fs := newFakeStore()
	in := newIngestorForTest(t, &fakeClient{}, fs, "secret")

	body := []byte(`{}`)
	headers := http.Header{}
	headers.Set(eventHeader, "issues")
	headers.Set(signatureHeader, sign([]byte("secret"), body))

	_, err := in.Ingest(context.Background(), body, headers)
	require.Error(t, err)
}

func TestToIssueUpsertFromRaw(t *testing.T) {
	issue := rawIssue{
		ID: 9, Number: 2, Title: "t", State: "open",
		User:      rawUser{Login: "bob"},
		Assignees: []rawUser{{Login: "carol"}},
		Labels:    []rawLabel{{Name: "bug"}},
	}
	repo := rawRepository{Name: "core", Owner: rawUser{Login: "octocrew"}}

	got := toIssueUpsertFromRaw(repo, issue)
	assert.Equal(t, "octocrew", got.RepoOwner)
	assert.Equal(t, []string{"carol"}, got.Assignees)
	assert.Equal(t, []string{"bug"}, got.Labels)
	assert.Equal(t, domain.IssueStatusOpen, got.Status)
}
