package cms

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is used when a Poller is created without an interval.
const DefaultPollInterval = time.Minute

// ChangeTarget is a provider as seen by change detection.
type ChangeTarget interface {
	LatestCommitSHA(ctx context.Context) (string, error)
	InvalidateAndRefresh(ctx context.Context, sha string) (string, error)
}

type observation struct {
	providerID string
	sha        string
}

// Poller compares each provider's head commit against the last one it saw
// and refreshes the provider when they differ.
//
// The last-seen map is owned by the goroutine running Run. Other goroutines
// report SHAs they have already acted on through Observe.
type Poller struct {
	interval time.Duration
	state    StateStore
	clock    Clock
	logger   Logger

	ids      []string
	targets  map[string]ChangeTarget
	lastSeen map[string]string
	observed chan observation
}

// NewPoller creates a poller. state may be nil.
func NewPoller(interval time.Duration, state StateStore, clock Clock, logger Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		state:    state,
		clock:    clock,
		logger:   logger,
		targets:  make(map[string]ChangeTarget),
		lastSeen: make(map[string]string),
		observed: make(chan observation, 64),
	}
}

// Add registers a provider. Must be called before Run.
func (p *Poller) Add(providerID string, t ChangeTarget) {
	if _, ok := p.targets[providerID]; !ok {
		p.ids = append(p.ids, providerID)
	}
	p.targets[providerID] = t
}

// Observe records that providerID has been refreshed to sha elsewhere, so
// the next tick does not refresh it again. Safe for concurrent use.
func (p *Poller) Observe(providerID, sha string) {
	select {
	case p.observed <- observation{providerID: providerID, sha: sha}:
	default:
		p.logger.Debug("observation dropped", "provider", providerID, "commit", sha)
	}
}

// LastSeen returns the recorded SHA for providerID. Only safe when Run is not active.
func (p *Poller) LastSeen(providerID string) string {
	return p.lastSeen[providerID]
}

// Run ticks until ctx is done. Tick failures are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.restore(ctx)
	p.logger.Info("poller started", "interval", p.interval.String(), "providers", len(p.ids))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case obs := <-p.observed:
			p.remember(ctx, obs.providerID, obs.sha)
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick checks every provider once and returns how many were refreshed.
// It must not run concurrently with Run.
func (p *Poller) Tick(ctx context.Context) int {
	p.drainObservations(ctx)
	refreshed := 0
	for _, id := range p.ids {
		if ctx.Err() != nil {
			return refreshed
		}
		changed, err := p.check(ctx, id, p.targets[id])
		if err != nil {
			p.logger.Warn("poll failed", "provider", id, "error", err)
			continue
		}
		if changed {
			refreshed++
		}
	}
	return refreshed
}

func (p *Poller) check(ctx context.Context, id string, t ChangeTarget) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while polling: %v", r)
		}
	}()

	sha, err := t.LatestCommitSHA(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching head commit: %w", err)
	}
	if sha == "" || sha == p.lastSeen[id] {
		return false, nil
	}

	p.logger.Info("change detected", "provider", id, "previous", p.lastSeen[id], "commit", sha)
	published, err := t.InvalidateAndRefresh(WithTrigger(ctx, TriggerPoll), sha)
	if err != nil {
		return false, fmt.Errorf("refreshing to %s: %w", sha, err)
	}
	if published != sha {
		p.logger.Debug("refresh published a different commit", "provider", id, "polled", sha, "commit", published)
	}
	p.remember(ctx, id, published)
	return true, nil
}

func (p *Poller) drainObservations(ctx context.Context) {
	for {
		select {
		case obs := <-p.observed:
			p.remember(ctx, obs.providerID, obs.sha)
		default:
			return
		}
	}
}

func (p *Poller) remember(ctx context.Context, id, sha string) {
	if sha == "" || p.lastSeen[id] == sha {
		return
	}
	p.lastSeen[id] = sha
	if p.state == nil {
		return
	}
	if err := p.state.SetLastSeenSHA(context.WithoutCancel(ctx), id, sha, p.clock.Now().UTC()); err != nil {
		p.logger.Warn("persisting last seen commit failed", "provider", id, "error", err)
	}
}

// restore seeds the last-seen map from the state store. Persisted SHAs are
// only trusted for providers registered with this poller.
func (p *Poller) restore(ctx context.Context) {
	if p.state == nil {
		return
	}
	seen, err := p.state.LastSeenSHAs(ctx)
	if err != nil {
		p.logger.Warn("loading last seen commits failed", "error", err)
		return
	}
	for id, sha := range seen {
		if _, ok := p.targets[id]; ok {
			p.lastSeen[id] = sha
		}
	}
}
