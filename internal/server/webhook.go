package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cms-go/internal/cms"
)

const (
	// MaxWebhookBody caps the size of a delivery; GitHub push payloads are
	// far below this.
	MaxWebhookBody = 5 << 20

	webhookRefreshTimeout  = 5 * time.Minute
	webhookRefreshAttempts = 3
	webhookRetryDelay      = 2 * time.Second
	zeroSHA                = "0000000000000000000000000000000000000000"
)

// Webhook delivery outcomes recorded in the state store.
const (
	OutcomeAccepted = "accepted"
	OutcomeIgnored  = "ignored"
	OutcomeNoMatch  = "no-match"
	OutcomeRejected = "rejected"
	OutcomePong     = "pong"
)

type pushEvent struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// WebhookHandler receives GitHub push notifications and refreshes the
// providers tracking the pushed branch. Refreshes run in the background;
// the delivery is acknowledged with 202 once they are scheduled.
type WebhookHandler struct {
	secret  []byte
	service *cms.Service
	poller  *cms.Poller
	state   cms.StateStore
	clock   cms.Clock
	logger  cms.Logger

	attempts   int
	retryDelay time.Duration

	wg sync.WaitGroup
}

// NewWebhookHandler creates a handler. poller and state may be nil. An
// empty secret disables signature checks.
func NewWebhookHandler(secret string, service *cms.Service, poller *cms.Poller, state cms.StateStore, clock cms.Clock, logger cms.Logger) *WebhookHandler {
	if secret == "" {
		logger.Warn("webhook secret not configured, signatures will not be verified")
	}
	return &WebhookHandler{
		secret:  []byte(secret),
		service: service,
		poller:  poller,
		state:   state,
		clock:   clock,
		logger:  logger,

		attempts:   webhookRefreshAttempts,
		retryDelay: webhookRetryDelay,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.finish(r.Context(), delivery, event, "", OutcomeRejected)
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	if !h.verify(r.Header.Get("X-Hub-Signature-256"), body) {
		h.logger.Warn("webhook signature rejected", "delivery", delivery, "event", event)
		h.finish(r.Context(), delivery, event, "", OutcomeRejected)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	switch event {
	case "ping":
		h.finish(r.Context(), delivery, event, "", OutcomePong)
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "push":
	default:
		h.logger.Debug("webhook event ignored", "delivery", delivery, "event", event)
		h.finish(r.Context(), delivery, event, "", OutcomeIgnored)
		writeJSON(w, http.StatusOK, map[string]string{"status": OutcomeIgnored})
		return
	}

	var push pushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push payload")
		return
	}

	branch, ok := strings.CutPrefix(push.Ref, "refs/heads/")
	if !ok || push.Deleted || push.After == "" || push.After == zeroSHA {
		h.logger.Info("webhook push ignored", "delivery", delivery, "ref", push.Ref)
		h.finish(r.Context(), delivery, event, "", OutcomeIgnored)
		writeJSON(w, http.StatusOK, map[string]string{"status": OutcomeIgnored})
		return
	}

	providers := h.service.Match(push.Repository.FullName, branch)
	if len(providers) == 0 {
		h.logger.Info("webhook push matched no provider", "delivery", delivery,
			"repository", push.Repository.FullName, "branch", branch)
		h.finish(r.Context(), delivery, event, "", OutcomeNoMatch)
		writeJSON(w, http.StatusOK, map[string]string{"status": OutcomeNoMatch})
		return
	}

	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
		h.dispatch(r.Context(), p, push.After)
		h.finish(r.Context(), delivery, event, p.ID, OutcomeAccepted)
	}
	h.logger.Info("webhook push accepted", "delivery", delivery, "sha", push.After, "providers", ids)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": OutcomeAccepted, "providers": ids})
}

// Wait blocks until every refresh scheduled by the handler has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

// dispatch refreshes p in the background. The refresh outlives the request
// but not the timeout. The poller learns the commit that was actually
// published, not the pushed one. When every attempt fails, p is left
// invalidated so the next read tries the remote again.
func (h *WebhookHandler) dispatch(reqCtx context.Context, p *cms.Provider, sha string) {
	ctx := cms.WithTrigger(context.WithoutCancel(reqCtx), cms.TriggerWebhook)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, webhookRefreshTimeout)
		defer cancel()

		published, err := h.refresh(ctx, p, sha)
		if err != nil {
			h.logger.Error("webhook refresh failed", "provider", p.ID, "sha", sha, "error", err)
			p.Invalidate()
			return
		}
		if published != sha {
			h.logger.Info("webhook refresh published a different commit", "provider", p.ID, "pushed", sha, "commit", published)
		}
		if h.poller != nil && published != "" {
			h.poller.Observe(p.ID, published)
		}
	}()
}

// refresh retries transient failures with a doubling delay.
func (h *WebhookHandler) refresh(ctx context.Context, p *cms.Provider, sha string) (string, error) {
	delay := h.retryDelay
	for attempt := 1; ; attempt++ {
		published, err := p.InvalidateAndRefresh(ctx, sha)
		if err == nil || !cms.IsTransient(err) || attempt >= h.attempts {
			return published, err
		}
		h.logger.Warn("webhook refresh failed, retrying", "provider", p.ID, "attempt", attempt, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", err
		case <-t.C:
		}
		delay *= 2
	}
}

// verify checks the "sha256=<hex>" signature in constant time.
func (h *WebhookHandler) verify(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) finish(ctx context.Context, delivery, event, providerID, outcome string) {
	if h.state == nil {
		return
	}
	d := &cms.WebhookDelivery{
		DeliveryID: delivery,
		Event:      event,
		ProviderID: providerID,
		ReceivedAt: h.clock.Now(),
		Outcome:    outcome,
	}
	if d.DeliveryID != "" && providerID != "" {
		d.DeliveryID += "/" + providerID
	}
	if err := h.state.RecordWebhook(context.WithoutCancel(ctx), d); err != nil {
		h.logger.Warn("recording webhook delivery failed", "delivery", delivery, "error", err)
	}
}
