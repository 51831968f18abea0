package cms_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cms-go/internal/cms"
	"cms-go/internal/testutil"
)

// countingFill returns generations tagged with an increasing commit number.
type countingFill struct {
	calls atomic.Int32
	fail  atomic.Pointer[error]
	gate  chan struct{}
}

func (f *countingFill) fill(ctx context.Context) (*cms.Generation, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errp := f.fail.Load(); errp != nil {
		return nil, *errp
	}
	return cms.NewGeneration("docs", string(rune('a'+n-1)), nil, nil, "en"), nil
}

func (f *countingFill) failWith(err error) {
	if err == nil {
		f.fail.Store(nil)
		return
	}
	f.fail.Store(&err)
}

func TestContentCache_EnsureLoaded(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	f := &countingFill{}
	c := cms.NewContentCache(time.Minute, clock, cms.NewNopLogger(), f.fill)

	if c.State() != cms.CacheEmpty {
		t.Errorf("State() = %s, want empty", c.State())
	}

	g1, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	g2, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	if g1 != g2 || f.calls.Load() != 1 {
		t.Errorf("fresh generation refilled: calls = %d", f.calls.Load())
	}
	if c.State() != cms.CacheLive {
		t.Errorf("State() = %s, want live", c.State())
	}
	if !g1.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want LoadedAt + ttl", g1.ExpiresAt)
	}

	clock.Advance(time.Minute)
	if c.State() != cms.CacheStale {
		t.Errorf("State() after ttl = %s, want stale", c.State())
	}
	g3, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	if g3 == g1 || f.calls.Load() != 2 {
		t.Errorf("expired generation not refilled: calls = %d", f.calls.Load())
	}
}

func TestContentCache_ConcurrentReadersShareOneFill(t *testing.T) {
	f := &countingFill{gate: make(chan struct{})}
	c := cms.NewContentCache(time.Minute, testutil.FixedClock(), cms.NewNopLogger(), f.fill)

	const readers = 16
	var wg sync.WaitGroup
	results := make([]*cms.Generation, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.EnsureLoaded(context.Background())
			if err != nil {
				t.Errorf("EnsureLoaded() error = %v", err)
			}
			results[i] = g
		}()
	}

	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fill ran %d times, want 1", n)
	}
	for i, g := range results {
		if g != results[0] {
			t.Errorf("reader %d observed a different generation", i)
		}
	}
}

func TestContentCache_WaiterHonoursContext(t *testing.T) {
	f := &countingFill{gate: make(chan struct{})}
	c := cms.NewContentCache(time.Minute, testutil.FixedClock(), cms.NewNopLogger(), f.fill)

	go c.EnsureLoaded(context.Background())
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.EnsureLoaded(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("EnsureLoaded() error = %v, want deadline exceeded", err)
	}
	close(f.gate)
}

func TestContentCache_KeepsLastGoodGeneration(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	f := &countingFill{}
	c := cms.NewContentCache(2*time.Minute, clock, cms.NewNopLogger(), f.fill)

	good, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}

	clock.Advance(90 * time.Second)
	boom := errors.New("remote down")
	f.failWith(boom)

	got, err := c.ForceRefresh(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("ForceRefresh() error = %v, want %v", err, boom)
	}
	if got != good || c.Current() != good {
		t.Error("failed refresh replaced the live generation")
	}
	if st := c.Stats(); st.LastError == "" || st.CommitSHA != good.CommitSHA {
		t.Errorf("Stats() = %+v, want last error and the good commit", st)
	}

	// Expired, but backing off: lazy reads serve the old generation silently.
	clock.Advance(30 * time.Second)
	calls := f.calls.Load()
	got, err = c.EnsureLoaded(ctx)
	if err != nil || got != good {
		t.Errorf("EnsureLoaded() during backoff = %v, %v; want the good generation", got, err)
	}
	if f.calls.Load() != calls {
		t.Error("lazy read retried the remote during backoff")
	}

	// After the backoff a lazy read retries and recovers.
	f.failWith(nil)
	clock.Advance(time.Minute)
	got, err = c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	if got == good {
		t.Error("EnsureLoaded() did not refill after the backoff")
	}
	if st := c.Stats(); st.LastError != "" {
		t.Errorf("LastError = %q after recovery, want empty", st.LastError)
	}
}

func TestContentCache_FirstFillFailure(t *testing.T) {
	f := &countingFill{}
	f.failWith(cms.ErrUnauthorized)
	c := cms.NewContentCache(time.Minute, testutil.FixedClock(), cms.NewNopLogger(), f.fill)

	g, err := c.EnsureLoaded(context.Background())
	if !errors.Is(err, cms.ErrUnauthorized) || g != nil {
		t.Errorf("EnsureLoaded() = %v, %v; want nil, ErrUnauthorized", g, err)
	}
	if c.State() != cms.CacheEmpty {
		t.Errorf("State() = %s, want empty", c.State())
	}
}

func TestContentCache_FirstFillFailureSharedByWaiters(t *testing.T) {
	clock := testutil.FixedClock()
	f := &countingFill{gate: make(chan struct{})}
	f.failWith(cms.ErrTransient)
	c := cms.NewContentCache(time.Minute, clock, cms.NewNopLogger(), f.fill)

	const readers = 8
	var wg sync.WaitGroup
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g, err := c.EnsureLoaded(context.Background()); !errors.Is(err, cms.ErrTransient) || g != nil {
				t.Errorf("EnsureLoaded() = %v, %v; want nil, ErrTransient", g, err)
			}
		}()
	}
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fill ran %d times for %d readers, want 1", n, readers)
	}
	if _, err := c.EnsureLoaded(context.Background()); !errors.Is(err, cms.ErrTransient) {
		t.Errorf("EnsureLoaded() during backoff error = %v, want ErrTransient", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("read during backoff reached the remote: %d fills", n)
	}

	f.failWith(nil)
	clock.Advance(time.Minute)
	if _, err := c.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() after backoff error = %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fills = %d after backoff, want 2", n)
	}
}

func TestContentCache_InvalidateEndsFailureBackoff(t *testing.T) {
	f := &countingFill{}
	f.failWith(cms.ErrTransient)
	c := cms.NewContentCache(time.Minute, testutil.FixedClock(), cms.NewNopLogger(), f.fill)

	if _, err := c.EnsureLoaded(context.Background()); !errors.Is(err, cms.ErrTransient) {
		t.Fatalf("EnsureLoaded() error = %v, want ErrTransient", err)
	}
	f.failWith(nil)
	c.Invalidate()
	if _, err := c.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() after Invalidate error = %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fills = %d, want 2", n)
	}
}

func TestContentCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	f := &countingFill{}
	c := cms.NewContentCache(time.Hour, testutil.FixedClock(), cms.NewNopLogger(), f.fill)

	first, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	c.Invalidate()
	if c.State() != cms.CacheStale {
		t.Errorf("State() after Invalidate = %s, want stale", c.State())
	}
	second, err := c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	if first == second {
		t.Error("EnsureLoaded() after Invalidate returned the old generation")
	}
}

func TestContentCache_PublishRestored(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	f := &countingFill{}
	f.failWith(cms.ErrTransient)
	c := cms.NewContentCache(time.Hour, clock, cms.NewNopLogger(), f.fill)

	restored := cms.NewGeneration("docs", "old", nil, nil, "en")
	restored.Restored = true
	c.Publish(restored)

	if !restored.ExpiresAt.Equal(clock.Now()) {
		t.Errorf("restored ExpiresAt = %v, want immediate expiry", restored.ExpiresAt)
	}
	got, err := c.EnsureLoaded(ctx)
	if err != nil || got != restored {
		t.Errorf("EnsureLoaded() = %v, %v; want the restored generation", got, err)
	}
	if f.calls.Load() != 0 {
		t.Error("restored generation triggered an immediate refill")
	}

	f.failWith(nil)
	clock.Advance(2 * time.Minute)
	got, err = c.EnsureLoaded(ctx)
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	if got.Restored {
		t.Error("restored generation was not replaced once the remote recovered")
	}
}
