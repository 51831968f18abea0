package cms

import (
	"context"
	"time"
)

// Sync triggers recorded in the sync history.
const (
	TriggerLazy    = "lazy"
	TriggerForced  = "forced"
	TriggerPoll    = "poll"
	TriggerWebhook = "webhook"
	TriggerWrite   = "write"
)

// SyncRecord describes one cache fill attempt.
type SyncRecord struct {
	ID          int64
	ProviderID  string
	CommitSHA   string
	Trigger     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string // "success" or "error"
	Items       int
	Directories int
	Error       string
}

// WebhookDelivery records the outcome of one received webhook.
type WebhookDelivery struct {
	DeliveryID string
	Event      string
	ProviderID string
	ReceivedAt time.Time
	Outcome    string
}

// StateStore persists change-detection state and sync history.
type StateStore interface {
	// LastSeenSHAs returns the recorded head SHA for every provider.
	LastSeenSHAs(ctx context.Context) (map[string]string, error)

	// SetLastSeenSHA records the head SHA observed for a provider.
	SetLastSeenSHA(ctx context.Context, providerID, sha string, at time.Time) error

	// RecordSync appends a fill attempt to the history.
	RecordSync(ctx context.Context, rec *SyncRecord) error

	// RecentSyncs returns the most recent fill attempts, newest first.
	// An empty providerID returns runs for all providers.
	RecentSyncs(ctx context.Context, providerID string, limit int) ([]*SyncRecord, error)

	// RecordWebhook appends a webhook delivery.
	RecordWebhook(ctx context.Context, d *WebhookDelivery) error

	// Close releases the underlying connection.
	Close() error
}
