package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cms-go/internal/cms"
)

const testSecret = "s3cret"

func pushBody(repo, ref, after string, deleted bool) string {
	return fmt.Sprintf(`{"ref":%q,"before":"0000000","after":%q,"deleted":%t,"repository":{"full_name":%q}}`,
		ref, after, deleted, repo)
}

func (f *fixture) deliver(t *testing.T, secret, event, delivery, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", delivery)
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", Sign(secret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Responses(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		event      string
		body       string
		wantCode   int
		wantStatus string
	}{
		{"ping", testSecret, "ping", `{"zen":"hi"}`, http.StatusOK, "pong"},
		{"unknown event", testSecret, "issues", `{}`, http.StatusOK, OutcomeIgnored},
		{"tag push", testSecret, "push", pushBody("acme/site", "refs/tags/v1", "abc123", false), http.StatusOK, OutcomeIgnored},
		{"branch deleted", testSecret, "push", pushBody("acme/site", "refs/heads/main", zeroSHA, true), http.StatusOK, OutcomeIgnored},
		{"other repository", testSecret, "push", pushBody("acme/other", "refs/heads/main", "abc123", false), http.StatusOK, OutcomeNoMatch},
		{"other branch", testSecret, "push", pushBody("acme/site", "refs/heads/dev", "abc123", false), http.StatusOK, OutcomeNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testSecret)
			rec := f.deliver(t, tt.secret, tt.event, "d-1", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			got := decode[map[string]any](t, rec)
			if got["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %q", got["status"], tt.wantStatus)
			}
		})
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, testSecret)
	body := pushBody("acme/site", "refs/heads/main", "abc123", false)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong secret", Sign("nope", []byte(body))},
		{"not hex", "sha256=zz"},
		{"wrong scheme", strings.Replace(Sign(testSecret, []byte(body)), "sha256=", "sha1=", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
			req.Header.Set("X-GitHub-Event", "push")
			if tt.header != "" {
				req.Header.Set("X-Hub-Signature-256", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
	f.webhook.Wait()
	if sha := f.provider.Stats().CommitSHA; sha != "" {
		t.Errorf("rejected delivery triggered a refresh to %q", sha)
	}
}

func TestWebhook_NoSecretAcceptsUnsigned(t *testing.T) {
	f := newFixture(t, "")
	rec := f.deliver(t, "", "ping", "d-1", `{}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhook_BadPayload(t *testing.T) {
	f := newFixture(t, testSecret)
	rec := f.deliver(t, testSecret, "push", "d-1", `{"ref":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	f := newFixture(t, testSecret)
	body := strings.Repeat("x", MaxWebhookBody+1)
	rec := f.deliver(t, testSecret, "push", "d-big", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestWebhook_PushRefreshesProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSecret)

	if _, err := f.provider.GetAll(ctx); err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if got := f.provider.Stats().Items; got != 3 {
		t.Fatalf("initial items = %d, want 3", got)
	}

	f.tree.Put("content/guides/faq.md", "---\ntitle: FAQ\n---\nQuestions.\n")
	head, err := f.tree.GetLatestCommitSHA(ctx, "main")
	if err != nil {
		t.Fatalf("GetLatestCommitSHA() error = %v", err)
	}

	rec := f.deliver(t, testSecret, "push", "d-42", pushBody("acme/site", "refs/heads/main", head, false))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}](t, rec)
	if got.Status != OutcomeAccepted || len(got.Providers) != 1 || got.Providers[0] != f.provider.ID {
		t.Errorf("response = %+v", got)
	}

	f.webhook.Wait()

	stats := f.provider.Stats()
	if stats.Items != 4 {
		t.Errorf("items after push = %d, want 4", stats.Items)
	}
	if stats.CommitSHA != head {
		t.Errorf("CommitSHA = %q, want %q", stats.CommitSHA, head)
	}
	if f.poller.LastSeen(f.provider.ID) != head {
		t.Errorf("poller LastSeen = %q, want %q", f.poller.LastSeen(f.provider.ID), head)
	}
}

func TestWebhook_RecordsDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSecret)

	f.deliver(t, testSecret, "ping", "d-1", `{}`)
	f.deliver(t, "wrong", "push", "d-2", `{}`)
	head, err := f.tree.GetLatestCommitSHA(ctx, "main")
	if err != nil {
		t.Fatalf("GetLatestCommitSHA() error = %v", err)
	}
	f.deliver(t, testSecret, "push", "d-3", pushBody("acme/site", "refs/heads/main", head, false))
	f.webhook.Wait()

	got, err := f.state.RecentWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("RecentWebhooks() error = %v", err)
	}
	outcomes := make(map[string]string, len(got))
	for _, d := range got {
		outcomes[d.DeliveryID] = d.Outcome
	}
	want := map[string]string{
		"d-1":      OutcomePong,
		"d-2":      OutcomeRejected,
		"d-3/docs": OutcomeAccepted,
	}
	for id, outcome := range want {
		if outcomes[id] != outcome {
			t.Errorf("delivery %s outcome = %q, want %q (all: %v)", id, outcomes[id], outcome, outcomes)
		}
	}
}

func TestWebhook_RecordsPublishedCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSecret)

	// The push names a commit the branch has already moved past.
	f.tree.Put("content/guides/faq.md", "# FAQ\n")
	head, err := f.tree.GetLatestCommitSHA(ctx, "main")
	if err != nil {
		t.Fatalf("GetLatestCommitSHA() error = %v", err)
	}
	const pushed = "1111111111111111111111111111111111111111"

	rec := f.deliver(t, testSecret, "push", "d-7", pushBody("acme/site", "refs/heads/main", pushed, false))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	f.webhook.Wait()

	if got := f.provider.Stats().CommitSHA; got != head {
		t.Errorf("CommitSHA = %q, want %q", got, head)
	}
	f.poller.Tick(ctx)
	if got := f.poller.LastSeen(f.provider.ID); got != head {
		t.Errorf("poller LastSeen = %q, want the published %q", got, head)
	}
}

func TestWebhook_RetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"transient", cms.ErrTransient, 3},
		{"rate limited", cms.ErrRateLimited, 3},
		{"forbidden", cms.ErrForbidden, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, testSecret)
			f.webhook.retryDelay = time.Millisecond
			f.tree.Fail("list", "content", tt.err)

			head, _ := f.tree.GetLatestCommitSHA(ctx, "main")
			rec := f.deliver(t, testSecret, "push", "d-9", pushBody("acme/site", "refs/heads/main", head, false))
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202", rec.Code)
			}
			f.webhook.Wait()

			if n := f.tree.Calls("list", "content"); n != tt.wantCalls {
				t.Errorf("refresh attempts = %d, want %d", n, tt.wantCalls)
			}
			if _, err := f.provider.GetAll(ctx); err == nil {
				t.Fatal("GetAll() expected error while listing fails")
			}
			if n := f.tree.Calls("list", "content"); n != tt.wantCalls+1 {
				t.Errorf("read after failed webhook made %d list calls, want %d", n, tt.wantCalls+1)
			}
			f.poller.Tick(ctx)
			if got := f.poller.LastSeen(f.provider.ID); got != "" {
				t.Errorf("failed refresh reported %q to the poller", got)
			}
		})
	}
}
