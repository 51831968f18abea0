package cms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CacheState is the lifecycle position of a ContentCache.
type CacheState string

const (
	CacheEmpty   CacheState = "empty"
	CacheFilling CacheState = "filling"
	CacheLive    CacheState = "live"
	CacheStale   CacheState = "stale"
)

// maxFailureBackoff caps how long lazy reads keep serving the last good
// generation after a failed refresh before trying the remote again.
const maxFailureBackoff = time.Minute

// FillFunc builds a complete generation from the remote.
type FillFunc func(ctx context.Context) (*Generation, error)

// ContentCache owns the live generation of one provider.
//
// Readers load the published generation without locking. Fills are
// serialized through a one-slot semaphore so waiting callers can give up
// when their context ends. A failed fill never replaces a good generation.
type ContentCache struct {
	ttl     time.Duration
	backoff time.Duration
	clock   Clock
	logger  Logger
	fill    FillFunc
	onFill  func(context.Context, *Generation)

	sem     chan struct{}
	current atomic.Pointer[Generation]
	epoch   atomic.Uint64
	filling atomic.Bool

	mu         sync.Mutex
	retryAfter time.Time
	lastErr    error
}

// NewContentCache creates an empty cache whose generations live for ttl.
func NewContentCache(ttl time.Duration, clock Clock, logger Logger, fill FillFunc) *ContentCache {
	if ttl <= 0 {
		ttl = DefaultCacheDuration
	}
	return &ContentCache{
		ttl:     ttl,
		backoff: min(ttl, maxFailureBackoff),
		clock:   clock,
		logger:  logger,
		fill:    fill,
		sem:     make(chan struct{}, 1),
	}
}

// OnFill registers fn to run after each successful fill is published. fn runs
// on the filling goroutine once the fill lock is released. Call it before the
// cache is shared.
func (c *ContentCache) OnFill(fn func(context.Context, *Generation)) {
	c.onFill = fn
}

// Current returns the published generation without triggering a fill. May be nil.
func (c *ContentCache) Current() *Generation {
	return c.current.Load()
}

// EnsureLoaded returns a fresh generation, filling the cache first if needed.
// Concurrent callers wait for a single fill and all observe its result. While
// a failed fill is backing off, an empty cache returns that fill's error.
func (c *ContentCache) EnsureLoaded(ctx context.Context) (*Generation, error) {
	now := c.clock.Now()
	if g := c.current.Load(); g != nil {
		if c.usable(g, now) || c.backingOff(now) {
			return g, nil
		}
	} else if err := c.recentFailure(now); err != nil {
		return nil, err
	}
	return c.refresh(ctx, c.epoch.Load(), false)
}

// ForceRefresh discards the current generation's validity and fills again.
// If the fill fails, the previous generation stays live and is returned
// together with the error.
func (c *ContentCache) ForceRefresh(ctx context.Context) (*Generation, error) {
	target := c.epoch.Add(1)
	return c.refresh(ctx, target, true)
}

// Invalidate marks the current generation stale; the next read refills.
func (c *ContentCache) Invalidate() {
	c.epoch.Add(1)
	c.mu.Lock()
	c.retryAfter = time.Time{}
	c.mu.Unlock()
}

// Publish installs g as the live generation. Used to seed the cache from a snapshot.
func (c *ContentCache) Publish(g *Generation) {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	c.publish(g, c.epoch.Load())
}

func (c *ContentCache) refresh(ctx context.Context, target uint64, forced bool) (*Generation, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g, filled, err := c.refreshLocked(ctx, target, forced)
	<-c.sem

	if filled && c.onFill != nil {
		c.onFill(ctx, g)
	}
	return g, err
}

// refreshLocked must be called with the semaphore held. The bool reports
// whether the generation came from a fill that was just published.
func (c *ContentCache) refreshLocked(ctx context.Context, target uint64, forced bool) (*Generation, bool, error) {
	now := c.clock.Now()
	prev := c.current.Load()
	if prev != nil && prev.epoch >= target && prev.Fresh(now) {
		return prev, false, nil
	}
	if !forced && prev != nil && c.backingOff(now) {
		return prev, false, nil
	}
	if !forced && prev == nil {
		if err := c.recentFailure(now); err != nil {
			return nil, false, err
		}
	}

	c.filling.Store(true)
	defer c.filling.Store(false)

	started := c.epoch.Load()
	next, err := c.fill(ctx)
	if err == nil && next == nil {
		err = ErrNotFound
	}
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.retryAfter = c.clock.Now().Add(c.backoff)
		c.mu.Unlock()
		if prev == nil {
			return nil, false, err
		}
		c.logger.Warn("refresh failed, serving previous generation", "provider", prev.ProviderID, "commit", prev.CommitSHA, "error", err)
		if forced {
			return prev, false, err
		}
		return prev, false, nil
	}

	c.publish(next, started)
	return next, true, nil
}

// publish must be called with the semaphore held.
func (c *ContentCache) publish(g *Generation, epoch uint64) {
	now := c.clock.Now()
	g.epoch = epoch
	g.LoadedAt = now
	c.mu.Lock()
	if g.Restored {
		g.ExpiresAt = now
		c.retryAfter = now.Add(c.backoff)
	} else {
		g.ExpiresAt = now.Add(c.ttl)
		c.retryAfter = time.Time{}
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.current.Store(g)
}

func (c *ContentCache) usable(g *Generation, now time.Time) bool {
	return g.epoch >= c.epoch.Load() && g.Fresh(now)
}

func (c *ContentCache) backingOff(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Before(c.retryAfter)
}

// recentFailure returns the error of the last fill while its backoff lasts.
func (c *ContentCache) recentFailure(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr != nil && now.Before(c.retryAfter) {
		return c.lastErr
	}
	return nil
}

// CacheStats summarizes a cache for health reporting.
type CacheStats struct {
	State       CacheState `json:"state"`
	CommitSHA   string     `json:"commitSha,omitempty"`
	LoadedAt    time.Time  `json:"loadedAt,omitzero"`
	ExpiresAt   time.Time  `json:"expiresAt,omitzero"`
	Items       int        `json:"items"`
	Directories int        `json:"directories"`
	Restored    bool       `json:"restored,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Stats reports the cache state without triggering a fill.
func (c *ContentCache) Stats() CacheStats {
	g := c.current.Load()
	st := CacheStats{State: c.State()}
	if g != nil {
		st.CommitSHA = g.CommitSHA
		st.LoadedAt = g.LoadedAt
		st.ExpiresAt = g.ExpiresAt
		st.Items = len(g.Items)
		st.Directories = len(g.Directories)
		st.Restored = g.Restored
	}
	c.mu.Lock()
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	return st
}

// State returns the cache's lifecycle position.
func (c *ContentCache) State() CacheState {
	if c.filling.Load() {
		return CacheFilling
	}
	g := c.current.Load()
	switch {
	case g == nil:
		return CacheEmpty
	case c.usable(g, c.clock.Now()):
		return CacheLive
	default:
		return CacheStale
	}
}
